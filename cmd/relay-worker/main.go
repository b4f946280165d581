// Relay Worker — доставляет jobs провайдеру.
//
// Worker:
//   - Получает jobs из jobs.ready (приоритет trigger > bulk)
//   - Проверяет purge, circuit breaker и per-page rate limit
//   - Отправляет сообщение через Send API
//   - Повторяет временные ошибки через delay-очереди
//   - Пишет итоги пачками в message_logs
//
// Workers масштабируются горизонтально. Circuit breaker и log writer
// у каждого процесса свои; их состояние доступно на WORKER_PORT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Relay/internal/api"
	"github.com/shaiso/Relay/internal/circuit"
	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/logwriter"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/provider"
	"github.com/shaiso/Relay/internal/purge"
	"github.com/shaiso/Relay/internal/ratelimit"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(telemetry.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting relay-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DatabaseURL(), MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "relay-worker", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected", "topology", mq.TopologyInfo())

	publisher := mq.NewPublisher(mqConn, logger)
	defer publisher.Close()

	// Redis: rate limiter и purge. Недоступность не мешает старту:
	// limiter пропускает jobs, purge считает runs не удалёнными.
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, rate limiting fails open", "error", err)
	}

	limiter := ratelimit.New(rdb, ratelimit.Config{
		Limit:  cfg.RateLimitPerPage,
		Window: cfg.RateLimitWindow(),
		Logger: logger,
	})
	purges := purge.New(rdb, purge.DefaultTTL, logger)

	client := provider.NewClient(provider.Config{
		URL:        cfg.ProviderURL(),
		Debug:      cfg.Debug,
		MaxSockets: cfg.MaxSockets,
		Logger:     logger,
	})

	breaker := circuit.New(circuit.Config{
		Enabled:   cfg.CircuitBreakerEnabled,
		Threshold: cfg.CircuitBreakerThreshold,
		Timeout:   cfg.CircuitBreakerTimeout(),
		Logger:    logger,
	})

	logWriter := logwriter.New(logwriter.Config{
		Store:     repo.NewLogRepo(pool),
		BatchSize: cfg.LogBatchSize,
		Interval:  cfg.LogBatchInterval(),
		Logger:    logger,
	})
	logWriter.Start(ctx)

	// Создаём worker
	worker := dispatch.New(dispatch.Config{
		Conn:          mqConn,
		Sender:        client,
		Breaker:       breaker,
		Logs:          logWriter,
		Requeuer:      publisher,
		Limiter:       limiter,
		Purges:        purges,
		Subscribers:   repo.NewSubscriberRepo(pool),
		TriggerRuns:   repo.NewTriggerRunRepo(pool),
		Concurrency:   cfg.WorkerConcurrency,
		JobsPerSecond: cfg.RateLimitMaxJobsPerSecond,
		MaxAttempts:   cfg.JobMaxAttempts,
		Backoff:       cfg.JobBackoff(),
		Logger:        logger,
	})

	if err := worker.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz, /metrics и состояние компонентов воркера
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Service:    "relay-worker",
		DB:         pool,
		Queue:      mq.NewInspector(mqConn),
		Client:     client,
		Circuits:   breaker,
		LogWriter:  logWriter,
		RateLimits: limiter,
		Logger:     logger,
	}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Сначала перестаём брать jobs и дожидаемся начатых, затем
	// сбрасываем оставшиеся логи.
	worker.Stop()
	if err := logWriter.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to flush logs on shutdown", "error", err, "buffered", logWriter.Len())
	}

	logger.Info("relay-worker stopped")
}
