// Package purge хранит отметки об административном удалении jobs по run.
//
// RabbitMQ не умеет выборочно удалять сообщения из очереди, поэтому
// удаление реализовано отметкой в Redis: воркер подтверждает job
// удалённого run без отправки.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Relay/internal/domain"
)

// DefaultTTL — время жизни отметки. Больше максимальной задержки job в очереди.
const DefaultTTL = 24 * time.Hour

// Registry — отметки удалённых runs.
type Registry struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New создаёт Registry. ttl <= 0 означает DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{rdb: rdb, ttl: ttl, logger: logger.With("component", "purge")}
}

// Mark отмечает jobs run для удаления.
func (r *Registry) Mark(ctx context.Context, kind domain.JobKind, runID int64) error {
	if err := r.rdb.Set(ctx, Key(kind, runID), time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return fmt.Errorf("mark %s %d purged: %w", kind, runID, err)
	}
	r.logger.Info("jobs marked for purge", "kind", kind, "run_id", runID)
	return nil
}

// IsPurged возвращает true, если jobs run отмечены для удаления.
// Ошибка хранилища трактуется как «не удалён» и возвращается вызывающему.
func (r *Registry) IsPurged(ctx context.Context, kind domain.JobKind, runID int64) (bool, error) {
	err := r.rdb.Get(ctx, Key(kind, runID)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("check purge of %s %d: %w", kind, runID, err)
	}
}

// Clear снимает отметку.
func (r *Registry) Clear(ctx context.Context, kind domain.JobKind, runID int64) error {
	if err := r.rdb.Del(ctx, Key(kind, runID)).Err(); err != nil {
		return fmt.Errorf("clear purge of %s %d: %w", kind, runID, err)
	}
	return nil
}

// Key возвращает ключ отметки.
func Key(kind domain.JobKind, runID int64) string {
	return "purged:" + string(kind) + ":" + strconv.FormatInt(runID, 10)
}
