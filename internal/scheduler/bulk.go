package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

const (
	defaultRunBatchSize = 10
	defaultPageSize     = 1000
	defaultPublishChunk = 500
	defaultMessageDelay = 2 * time.Second
)

// BulkConfig — зависимости и параметры BulkProcessor.
type BulkConfig struct {
	Runs        RunStore
	Flows       FlowSource
	Pages       PageSource
	Subscribers SubscriberSource
	Publisher   JobPublisher
	Engine      *engine.Engine
	Logger      *slog.Logger

	// BatchSize — сколько due runs берётся за цикл (default: 10).
	BatchSize int

	// PageSize — размер страницы подписчиков (default: 1000).
	PageSize int

	// PublishChunk — сколько jobs публикуется за раз (default: 500).
	PublishChunk int

	// MessageDelay — интервал между сообщениями одному получателю (default: 2s).
	MessageDelay time.Duration

	Now func() time.Time
}

// BulkProcessor продвигает bulk runs: рассылка по всем активным
// подписчикам страниц run.
type BulkProcessor struct {
	runs        RunStore
	flows       FlowSource
	pages       PageSource
	subscribers SubscriberSource
	publisher   JobPublisher
	engine      *engine.Engine
	logger      *slog.Logger

	batchSize    int
	pageSize     int
	publishChunk int
	messageDelay time.Duration
	now          func() time.Time
}

// NewBulkProcessor создаёт BulkProcessor.
func NewBulkProcessor(cfg BulkConfig) *BulkProcessor {
	p := &BulkProcessor{
		runs:         cfg.Runs,
		flows:        cfg.Flows,
		pages:        cfg.Pages,
		subscribers:  cfg.Subscribers,
		publisher:    cfg.Publisher,
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		batchSize:    cfg.BatchSize,
		pageSize:     cfg.PageSize,
		publishChunk: cfg.PublishChunk,
		messageDelay: cfg.MessageDelay,
		now:          cfg.Now,
	}
	if p.engine == nil {
		p.engine = engine.New()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "run-scheduler")
	if p.batchSize <= 0 {
		p.batchSize = defaultRunBatchSize
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	if p.publishChunk <= 0 {
		p.publishChunk = defaultPublishChunk
	}
	if p.messageDelay <= 0 {
		p.messageDelay = defaultMessageDelay
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Cycle обрабатывает один пакет due runs.
// Ошибка одного run не мешает остальным.
func (p *BulkProcessor) Cycle(ctx context.Context) error {
	now := p.now()

	runs, err := p.runs.ListDue(ctx, now, p.batchSize)
	if err != nil {
		return fmt.Errorf("list due runs: %w", err)
	}
	if len(runs) == 0 {
		p.logger.Debug("no runs ready to process")
		return nil
	}

	p.logger.Info("processing runs", "count", len(runs))

	for i := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processRun(ctx, &runs[i], now)
	}
	return nil
}

func (p *BulkProcessor) processRun(ctx context.Context, run *domain.Run, now time.Time) {
	logger := telemetry.WithFlowID(telemetry.WithRunID(p.logger, run.ID), run.FlowID.String())

	claimed, err := p.runs.Claim(ctx, run.ID, run.Status, now)
	if err != nil {
		logger.Error("failed to claim run", "error", err)
		telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindRun), "error").Inc()
		return
	}
	if !claimed {
		logger.Debug("run already claimed, skipping", "status", run.Status)
		telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindRun), "skipped").Inc()
		return
	}

	progress, enqueued, err := p.advance(ctx, run, logger)
	if err == nil {
		err = p.runs.SaveProgress(ctx, run.ID, progress)
	}

	switch {
	case errors.Is(err, repo.ErrInvalidState):
		logger.Warn("run changed state during processing, progress dropped", "error", err)
		telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindRun), "skipped").Inc()
	case err != nil:
		p.fail(ctx, run, err, logger)
	default:
		logger.Info("run processed",
			"status", progress.Status,
			"jobs", enqueued,
			"next_step_id", progress.NextStepID,
			"next_step_at", progress.NextStepAt,
		)
		telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindRun), string(progress.Status)).Inc()
	}
}

// advance обходит flow и ставит jobs для всех страниц run.
func (p *BulkProcessor) advance(ctx context.Context, run *domain.Run, logger *slog.Logger) (domain.Progress, int, error) {
	res, err := loadAndTraverse(ctx, p.flows, p.engine, run.FlowID, run.Status, run.NextStepID)
	if err != nil {
		return domain.Progress{}, 0, err
	}

	logger.Debug("flow traversed",
		"messages", len(res.Messages),
		"complete", res.IsComplete,
		"next_step_id", res.NextStepID,
	)

	var enqueued int
	if len(res.Messages) > 0 {
		for _, pageID := range run.PageIDs {
			n, err := p.enqueuePage(ctx, run, pageID, res.Messages, logger)
			if err != nil {
				return domain.Progress{}, enqueued, fmt.Errorf("page %s: %w", pageID, err)
			}
			enqueued += n
		}
	}

	return domain.ProgressFrom(res.NextStepID, res.NextStepAt, res.LastStepID, res.IsComplete, p.now()), enqueued, nil
}

// enqueuePage ставит jobs для всех активных подписчиков страницы.
// Страница без активного credential пропускается.
func (p *BulkProcessor) enqueuePage(ctx context.Context, run *domain.Run, pageID string, messages []engine.Message, logger *slog.Logger) (int, error) {
	logger = telemetry.WithPageID(logger, pageID)

	page, err := p.pages.GetActive(ctx, pageID, run.UserID, p.now())
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("no active page connection, skipping page")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get page: %w", err)
	}

	var (
		batch    []domain.Job
		enqueued int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.publisher.PublishJobs(ctx, batch); err != nil {
			return fmt.Errorf("publish jobs: %w", err)
		}
		enqueued += len(batch)
		telemetry.JobsEnqueued.WithLabelValues(string(domain.JobKindRun)).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	// Jobs публикуются по ходу выборки, и воркеры уже деактивируют
	// подписчиков: страницы идут по user_id, а не по смещению.
	for after := ""; ; {
		subs, err := p.subscribers.ListActive(ctx, pageID, after, p.pageSize)
		if err != nil {
			return enqueued, fmt.Errorf("list subscribers after %q: %w", after, err)
		}

		for _, s := range subs {
			jobs, err := BuildJobs(Recipient{
				Kind:        domain.JobKindRun,
				RunID:       run.ID,
				FlowID:      run.FlowID,
				PageID:      page.PageID,
				UserID:      s.UserID,
				AccessToken: page.AccessToken,
			}, messages, p.messageDelay, domain.PriorityBulk)
			if err != nil {
				return enqueued, err
			}
			batch = append(batch, jobs...)

			if len(batch) >= p.publishChunk {
				if err := flush(); err != nil {
					return enqueued, err
				}
			}
		}

		if len(subs) < p.pageSize {
			break
		}
		after = subs[len(subs)-1].UserID
	}

	if err := flush(); err != nil {
		return enqueued, err
	}

	logger.Info("page jobs enqueued", "jobs", enqueued)
	return enqueued, nil
}

func (p *BulkProcessor) fail(ctx context.Context, run *domain.Run, cause error, logger *slog.Logger) {
	logger.Error("run failed", "error", cause)
	telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindRun), string(domain.RunStatusFailed)).Inc()

	summary, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := p.runs.MarkFailed(ctx, run.ID, summary); err != nil {
		logger.Error("failed to mark run failed", "error", err)
	}
}
