package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Relay/internal/circuit"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/logwriter"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/provider"
	"github.com/shaiso/Relay/internal/ratelimit"
)

// Зависимости Handler. Процесс передаёт только то, что у него есть;
// маршруты для отсутствующих зависимостей не регистрируются.
type (
	// Pinger — проверка соединения с БД (*pgxpool.Pool).
	Pinger interface {
		Ping(ctx context.Context) error
	}

	QueueInspector interface {
		Stats(ctx context.Context) (*mq.Stats, error)
	}

	ClientStats interface {
		Stats() provider.Stats
	}

	Circuits interface {
		States() []circuit.State
		Reset(pageID string) bool
		Settings() (enabled bool, threshold int, timeout time.Duration)
	}

	LogWriterStats interface {
		Stats() logwriter.Stats
	}

	RateLimits interface {
		Stats(ctx context.Context, pageID string) (ratelimit.Stats, error)
		Reset(ctx context.Context, pageID string) error
	}

	Summaries interface {
		Summary(ctx context.Context, kind domain.JobKind, id int64) (*domain.RunSummary, error)
	}

	Purger interface {
		Mark(ctx context.Context, kind domain.JobKind, runID int64) error
	}
)

// Handler — обработчик операционного API.
type Handler struct {
	service    string
	db         Pinger
	queue      QueueInspector
	client     ClientStats
	circuits   Circuits
	logWriter  LogWriterStats
	rateLimits RateLimits
	summaries  Summaries
	purger     Purger
	logger     *slog.Logger
	now        func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	// Service — имя процесса в ответах /health.
	Service string

	DB         Pinger
	Queue      QueueInspector
	Client     ClientStats
	Circuits   Circuits
	LogWriter  LogWriterStats
	RateLimits RateLimits
	Summaries  Summaries
	Purger     Purger

	Logger *slog.Logger
	Now    func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		service:    cfg.Service,
		db:         cfg.DB,
		queue:      cfg.Queue,
		client:     cfg.Client,
		circuits:   cfg.Circuits,
		logWriter:  cfg.LogWriter,
		rateLimits: cfg.RateLimits,
		summaries:  cfg.Summaries,
		purger:     cfg.Purger,
		logger:     cfg.Logger.With("component", "api"),
		now:        cfg.Now,
	}
}
