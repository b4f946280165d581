package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

const defaultTriggerBatchSize = 1000

// ReasonNoPageConnection — причина отмены trigger run без credential.
const ReasonNoPageConnection = "No active page connection found or page is blocked"

// TriggerConfig — зависимости и параметры TriggerProcessor.
type TriggerConfig struct {
	Runs      TriggerRunStore
	Flows     FlowSource
	Pages     PageSource
	Publisher JobPublisher
	Engine    *engine.Engine
	Logger    *slog.Logger

	// BatchSize — сколько due trigger runs берётся за цикл (default: 1000).
	BatchSize int

	MessageDelay time.Duration
	Now          func() time.Time
}

// TriggerProcessor продвигает trigger runs: один получатель,
// высокий приоритет очереди.
type TriggerProcessor struct {
	runs      TriggerRunStore
	flows     FlowSource
	pages     PageSource
	publisher JobPublisher
	engine    *engine.Engine
	logger    *slog.Logger

	batchSize    int
	messageDelay time.Duration
	now          func() time.Time
}

// NewTriggerProcessor создаёт TriggerProcessor.
func NewTriggerProcessor(cfg TriggerConfig) *TriggerProcessor {
	p := &TriggerProcessor{
		runs:         cfg.Runs,
		flows:        cfg.Flows,
		pages:        cfg.Pages,
		publisher:    cfg.Publisher,
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		batchSize:    cfg.BatchSize,
		messageDelay: cfg.MessageDelay,
		now:          cfg.Now,
	}
	if p.engine == nil {
		p.engine = engine.New()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "trigger-scheduler")
	if p.batchSize <= 0 {
		p.batchSize = defaultTriggerBatchSize
	}
	if p.messageDelay <= 0 {
		p.messageDelay = defaultMessageDelay
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Cycle обрабатывает один пакет due trigger runs.
func (p *TriggerProcessor) Cycle(ctx context.Context) error {
	now := p.now()

	runs, err := p.runs.ListDue(ctx, now, p.batchSize)
	if err != nil {
		return fmt.Errorf("list due trigger runs: %w", err)
	}
	if len(runs) == 0 {
		p.logger.Debug("no trigger runs ready to process")
		return nil
	}

	p.logger.Info("processing trigger runs", "count", len(runs))

	for i := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processRun(ctx, &runs[i], now)
	}
	return nil
}

func (p *TriggerProcessor) processRun(ctx context.Context, run *domain.TriggerRun, now time.Time) {
	logger := telemetry.WithTriggerRunID(p.logger, run.ID).With(
		"page_id", run.PageID,
		"user_id", run.RecipientUserID,
	)
	kind := string(domain.JobKindTrigger)

	claimed, err := p.runs.Claim(ctx, run.ID, run.Status, now)
	if err != nil {
		logger.Error("failed to claim trigger run", "error", err)
		telemetry.RunsProcessed.WithLabelValues(kind, "error").Inc()
		return
	}
	if !claimed {
		logger.Debug("trigger run already claimed, skipping", "status", run.Status)
		telemetry.RunsProcessed.WithLabelValues(kind, "skipped").Inc()
		return
	}

	progress, cancelled, err := p.advance(ctx, run, logger)
	if err == nil && !cancelled {
		err = p.runs.SaveProgress(ctx, run.ID, progress)
	}

	switch {
	case errors.Is(err, repo.ErrInvalidState):
		logger.Warn("trigger run changed state during processing, progress dropped", "error", err)
		telemetry.RunsProcessed.WithLabelValues(kind, "skipped").Inc()
	case err != nil:
		p.fail(ctx, run, err, logger)
	case cancelled:
		telemetry.RunsProcessed.WithLabelValues(kind, string(domain.RunStatusCancelled)).Inc()
	default:
		logger.Info("trigger run processed",
			"status", progress.Status,
			"next_step_id", progress.NextStepID,
			"next_step_at", progress.NextStepAt,
		)
		telemetry.RunsProcessed.WithLabelValues(kind, string(progress.Status)).Inc()
	}
}

// advance возвращает cancelled=true, если run отменён из-за отсутствия
// credential. Это бизнес-исход, а не ошибка.
func (p *TriggerProcessor) advance(ctx context.Context, run *domain.TriggerRun, logger *slog.Logger) (domain.Progress, bool, error) {
	if run.PageID == "" {
		return domain.Progress{}, false, errors.New("trigger run missing page_id")
	}
	if run.FlowID == uuid.Nil {
		return domain.Progress{}, false, errors.New("trigger run missing flow_id")
	}

	page, err := p.pages.GetActive(ctx, run.PageID, run.OwnerUserID, p.now())
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("no active page connection, cancelling trigger run", "owner_user_id", run.OwnerUserID)
		if err := p.runs.Cancel(ctx, run.ID, ReasonNoPageConnection); err != nil {
			return domain.Progress{}, false, fmt.Errorf("cancel: %w", err)
		}
		return domain.Progress{}, true, nil
	}
	if err != nil {
		return domain.Progress{}, false, fmt.Errorf("get page %s: %w", run.PageID, err)
	}

	res, err := loadAndTraverse(ctx, p.flows, p.engine, run.FlowID, run.Status, run.NextStepID)
	if err != nil {
		return domain.Progress{}, false, err
	}

	if len(res.Messages) > 0 {
		jobs, err := BuildJobs(Recipient{
			Kind:        domain.JobKindTrigger,
			RunID:       run.ID,
			FlowID:      run.FlowID,
			PageID:      page.PageID,
			UserID:      run.RecipientUserID,
			AccessToken: page.AccessToken,
		}, res.Messages, p.messageDelay, domain.PriorityTrigger)
		if err != nil {
			return domain.Progress{}, false, err
		}
		if err := p.publisher.PublishJobs(ctx, jobs); err != nil {
			return domain.Progress{}, false, fmt.Errorf("publish jobs: %w", err)
		}
		telemetry.JobsEnqueued.WithLabelValues(string(domain.JobKindTrigger)).Add(float64(len(jobs)))
		logger.Debug("trigger jobs enqueued", "jobs", len(jobs))
	}

	return triggerProgress(res, p.now()), false, nil
}

// triggerProgress — как domain.ProgressFrom, но обход без сообщений
// и без следующего шага завершает run, а не оставляет его running.
func triggerProgress(res *engine.Result, now time.Time) domain.Progress {
	complete := res.IsComplete
	if !complete && res.NextStepAt == nil && len(res.Messages) == 0 && res.NextStepID == "" {
		complete = true
	}
	return domain.ProgressFrom(res.NextStepID, res.NextStepAt, res.LastStepID, complete, now)
}

func (p *TriggerProcessor) fail(ctx context.Context, run *domain.TriggerRun, cause error, logger *slog.Logger) {
	logger.Error("trigger run failed", "error", cause)
	telemetry.RunsProcessed.WithLabelValues(string(domain.JobKindTrigger), string(domain.RunStatusFailed)).Inc()

	details, _ := json.Marshal(map[string]string{
		"message":   cause.Error(),
		"timestamp": p.now().UTC().Format(time.RFC3339),
	})
	if err := p.runs.MarkFailed(ctx, run.ID, details); err != nil {
		logger.Error("failed to mark trigger run failed", "error", err)
	}
}
