// Package ratelimit ограничивает частоту отправки по страницам.
//
// Скользящее окно хранится в Redis sorted set: score и member — время
// допуска. Удаление устаревших записей, подсчёт и добавление выполняются
// одним Lua скриптом, поэтому проверка атомарна для всех воркеров.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix — префикс ключей окна.
const KeyPrefix = "rate_limit:page:"

// slidingWindow: KEYS[1] — ключ, ARGV — now ms, window ms, limit, member.
// Возвращает {count, admitted}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {count + 1, 1}
end
return {count, 0}
`)

// Config — параметры лимитера.
type Config struct {
	// Limit — максимум допусков на страницу за окно.
	Limit int

	// Window — длина окна.
	Window time.Duration

	Logger *slog.Logger

	// Now — источник времени. По умолчанию time.Now.
	Now func() time.Time
}

// Stats — текущее заполнение окна страницы.
type Stats struct {
	PageID    string `json:"page_id"`
	Current   int64  `json:"current"`
	Max       int    `json:"max"`
	Remaining int64  `json:"remaining"`
	WindowMS  int64  `json:"window_ms"`
}

// Limiter — per-page sliding window limiter поверх Redis.
type Limiter struct {
	rdb    redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

// New создаёт Limiter.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		rdb:    rdb,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "rate_limiter"),
	}
}

// Window возвращает длину окна.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// Allow пытается занять слот в окне страницы.
//
// При ошибке Redis возвращает true вместе с ошибкой: отказ хранилища
// не должен останавливать отправку.
func (l *Limiter) Allow(ctx context.Context, pageID string) (bool, error) {
	now := l.cfg.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, l.rdb,
		[]string{Key(pageID)},
		now, l.cfg.Window.Milliseconds(), l.cfg.Limit, member,
	).Int64Slice()
	if err != nil {
		l.logger.Error("rate limit check failed, allowing",
			"page_id", pageID,
			"error", err,
		)
		return true, fmt.Errorf("rate limit check for page %s: %w", pageID, err)
	}
	if len(res) != 2 {
		return true, fmt.Errorf("rate limit check for page %s: unexpected reply %v", pageID, res)
	}

	admitted := res[1] == 1
	if !admitted {
		l.logger.Debug("rate limit reached",
			"page_id", pageID,
			"current", res[0],
			"limit", l.cfg.Limit,
		)
	}
	return admitted, nil
}

// Stats возвращает заполнение окна страницы без изменения состояния.
func (l *Limiter) Stats(ctx context.Context, pageID string) (Stats, error) {
	now := l.cfg.Now().UnixMilli()
	minScore := "(" + strconv.FormatInt(now-l.cfg.Window.Milliseconds(), 10)

	current, err := l.rdb.ZCount(ctx, Key(pageID), minScore, "+inf").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("rate limit stats for page %s: %w", pageID, err)
	}

	remaining := int64(l.cfg.Limit) - current
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		PageID:    pageID,
		Current:   current,
		Max:       l.cfg.Limit,
		Remaining: remaining,
		WindowMS:  l.cfg.Window.Milliseconds(),
	}, nil
}

// Reset очищает окно страницы.
func (l *Limiter) Reset(ctx context.Context, pageID string) error {
	if err := l.rdb.Del(ctx, Key(pageID)).Err(); err != nil {
		return fmt.Errorf("reset rate limit for page %s: %w", pageID, err)
	}
	l.logger.Info("rate limit reset", "page_id", pageID)
	return nil
}

// Key возвращает ключ окна страницы.
func Key(pageID string) string {
	return KeyPrefix + pageID
}
