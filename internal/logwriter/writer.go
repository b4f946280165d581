// Package logwriter буферизует итоги доставки и пишет их в БД пачками.
//
// Сброс происходит при заполнении буфера или по таймеру. При ошибке
// записи пачка возвращается в начало буфера и уходит при следующем
// сбросе: запись at-least-once, порядок между повторами не гарантируется.
package logwriter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Store — приёмник пачек логов.
type Store interface {
	InsertBatch(ctx context.Context, entries []domain.LogEntry) error
}

// Config — параметры Writer.
type Config struct {
	Store     Store
	BatchSize int
	Interval  time.Duration
	Logger    *slog.Logger
}

// Stats — состояние буфера.
type Stats struct {
	BufferedLogs    int     `json:"buffered_logs"`
	BatchSize       int     `json:"batch_size"`
	BatchIntervalMS int64   `json:"batch_interval_ms"`
	FillPercentage  float64 `json:"fill_percentage"`
}

// Writer — batch log writer.
type Writer struct {
	store     Store
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mu           sync.Mutex
	buf          []domain.LogEntry
	shuttingDown bool

	// flushMu сериализует сбросы, чтобы возврат пачки при ошибке
	// не перемешался со следующей пачкой.
	flushMu sync.Mutex

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// New создаёт Writer.
func New(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Writer{
		store:     cfg.Store,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		logger:    cfg.Logger.With("component", "log_writer"),
		buf:       make([]domain.LogEntry, 0, cfg.BatchSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start запускает периодический сброс. Останавливается по ctx или Shutdown.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("log writer started",
		"batch_size", w.batchSize,
		"interval", w.interval,
	)

	go w.flushLoop(ctx)
}

func (w *Writer) flushLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// Add добавляет запись в буфер. Заполненный буфер сбрасывается синхронно.
// После Shutdown каждая запись сбрасывается сразу.
func (w *Writer) Add(ctx context.Context, entry domain.LogEntry) error {
	w.mu.Lock()
	w.buf = append(w.buf, entry)
	size := len(w.buf)
	flushNow := size >= w.batchSize || w.shuttingDown
	w.mu.Unlock()

	telemetry.LogBufferSize.Set(float64(size))

	if flushNow {
		return w.Flush(ctx)
	}
	return nil
}

// Flush записывает текущий буфер одной пачкой.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buf
	w.buf = make([]domain.LogEntry, 0, w.batchSize)
	w.mu.Unlock()

	start := time.Now()
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		size := len(w.buf)
		w.mu.Unlock()

		telemetry.LogFlushes.WithLabelValues("error").Inc()
		telemetry.LogBufferSize.Set(float64(size))
		w.logger.Error("flush failed, entries kept in buffer",
			"count", len(batch),
			"error", err,
		)
		return fmt.Errorf("flush %d log entries: %w", len(batch), err)
	}

	telemetry.LogFlushes.WithLabelValues("ok").Inc()
	telemetry.LogBufferSize.Set(float64(w.Len()))
	w.logger.Debug("logs flushed",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

// Shutdown останавливает таймер и синхронно сбрасывает остаток.
func (w *Writer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.shuttingDown = true
	started := w.started
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopCh) })
	if started {
		select {
		case <-w.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n := w.Len(); n > 0 {
		w.logger.Info("flushing remaining logs", "count", n)
	}
	if err := w.Flush(ctx); err != nil {
		return err
	}
	w.logger.Info("log writer stopped")
	return nil
}

// Len возвращает число записей в буфере.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Stats возвращает состояние буфера.
func (w *Writer) Stats() Stats {
	n := w.Len()
	return Stats{
		BufferedLogs:    n,
		BatchSize:       w.batchSize,
		BatchIntervalMS: w.interval.Milliseconds(),
		FillPercentage:  float64(n) / float64(w.batchSize) * 100,
	}
}
