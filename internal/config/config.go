// Package config загружает конфигурацию процессов Relay из окружения.
//
// Все ключи имеют значения по умолчанию (defaults.go), поэтому
// локальный запуск не требует ни одной переменной.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Config — конфигурация всех процессов Relay.
type Config struct {
	// DBURL — DSN Postgres. Если пуст, собирается из POSTGRES_*.
	DBURL      string `mapstructure:"db_url"`
	DBMaxConns int32  `mapstructure:"db_max_conns"`

	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`

	RabbitMQURL string `mapstructure:"rabbitmq_url"`

	RedisURL      string `mapstructure:"redis_url"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	WorkerConcurrency int `mapstructure:"worker_concurrency"`
	MaxSockets        int `mapstructure:"max_sockets"`

	PollIntervalMS   int    `mapstructure:"poll_interval_ms"`
	PollSchedule     string `mapstructure:"poll_schedule"`
	RunBatchSize     int    `mapstructure:"run_batch_size"`
	TriggerBatchSize int    `mapstructure:"trigger_batch_size"`

	LogLevel           string `mapstructure:"log_level"`
	LogFormat          string `mapstructure:"log_format"`
	LogBatchSize       int    `mapstructure:"log_batch_size"`
	LogBatchIntervalMS int    `mapstructure:"log_batch_interval_ms"`

	RateLimitMaxJobsPerSecond int `mapstructure:"rate_limit_max_jobs_per_second"`
	RateLimitPerPage          int `mapstructure:"rate_limit_per_page"`
	RateLimitWindowMS         int `mapstructure:"rate_limit_window_ms"`

	CircuitBreakerEnabled   bool `mapstructure:"circuit_breaker_enabled"`
	CircuitBreakerThreshold int  `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutMS int  `mapstructure:"circuit_breaker_timeout_ms"`

	JobMaxAttempts int `mapstructure:"job_max_attempts"`
	JobBackoffMS   int `mapstructure:"job_backoff_ms"`
	MessageDelayMS int `mapstructure:"message_delay_ms"`

	APIPort       string `mapstructure:"api_port"`
	WorkerPort    string `mapstructure:"worker_port"`
	SchedulerPort string `mapstructure:"scheduler_port"`

	Debug         bool   `mapstructure:"debug"`
	DebugPostLink string `mapstructure:"debug_post_link"`
	GraphAPIURL   string `mapstructure:"graph_api_url"`
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return LoadWithViper(v)
}

// LoadWithViper загружает конфигурацию из переданного экземпляра viper.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений.
// minPollIntervalMS — минимальный POLL_INTERVAL_MS без POLL_SCHEDULE.
const minPollIntervalMS = 1000

func (c *Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"WORKER_CONCURRENCY":             c.WorkerConcurrency,
		"MAX_SOCKETS":                    c.MaxSockets,
		"POLL_INTERVAL_MS":               c.PollIntervalMS,
		"RUN_BATCH_SIZE":                 c.RunBatchSize,
		"TRIGGER_BATCH_SIZE":             c.TriggerBatchSize,
		"LOG_BATCH_SIZE":                 c.LogBatchSize,
		"LOG_BATCH_INTERVAL_MS":          c.LogBatchIntervalMS,
		"RATE_LIMIT_MAX_JOBS_PER_SECOND": c.RateLimitMaxJobsPerSecond,
		"RATE_LIMIT_PER_PAGE":            c.RateLimitPerPage,
		"RATE_LIMIT_WINDOW_MS":           c.RateLimitWindowMS,
		"CIRCUIT_BREAKER_THRESHOLD":      c.CircuitBreakerThreshold,
		"CIRCUIT_BREAKER_TIMEOUT_MS":     c.CircuitBreakerTimeoutMS,
		"JOB_MAX_ATTEMPTS":               c.JobMaxAttempts,
		"JOB_BACKOFF_MS":                 c.JobBackoffMS,
		"MESSAGE_DELAY_MS":               c.MessageDelayMS,
	}
	for key, val := range positive {
		if val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, val))
		}
	}
	// Интервальное расписание cron имеет разрешение в одну секунду.
	if c.PollSchedule == "" && c.PollIntervalMS > 0 && c.PollIntervalMS < minPollIntervalMS {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL_MS must be at least %d, got %d", minPollIntervalMS, c.PollIntervalMS))
	}
	if c.Debug && c.DebugPostLink == "" {
		errs = append(errs, errors.New("DEBUG requires DEBUG_POST_LINK"))
	}
	return errors.Join(errs...)
}

// DatabaseURL возвращает DSN Postgres.
func (c *Config) DatabaseURL() string {
	if c.PostgresHost == "" {
		return c.DBURL
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisAddr возвращает адрес Redis в формате host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// RedisOptions возвращает параметры клиента Redis: из REDIS_URL,
// а если он пуст — из REDIS_HOST/PORT/PASSWORD/DB.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.RedisAddr(),
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, nil
}

// PollInterval возвращает период опроса.
func (c *Config) PollInterval() time.Duration {
	return ms(c.PollIntervalMS)
}

// LogBatchInterval возвращает период сброса логов.
func (c *Config) LogBatchInterval() time.Duration {
	return ms(c.LogBatchIntervalMS)
}

// RateLimitWindow возвращает окно per-page лимита.
func (c *Config) RateLimitWindow() time.Duration {
	return ms(c.RateLimitWindowMS)
}

// CircuitBreakerTimeout возвращает время до автосброса circuit.
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return ms(c.CircuitBreakerTimeoutMS)
}

// JobBackoff возвращает задержку первой повторной попытки.
func (c *Config) JobBackoff() time.Duration {
	return ms(c.JobBackoffMS)
}

// MessageDelay возвращает интервал между сообщениями одному получателю.
func (c *Config) MessageDelay() time.Duration {
	return ms(c.MessageDelayMS)
}

// ProviderURL возвращает адрес отправки сообщений с учётом DEBUG.
func (c *Config) ProviderURL() string {
	if c.Debug {
		return c.DebugPostLink
	}
	return c.GraphAPIURL
}

// NormalizedLogLevel возвращает LOG_LEVEL в верхнем регистре.
func (c *Config) NormalizedLogLevel() string {
	return strings.ToUpper(strings.TrimSpace(c.LogLevel))
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
