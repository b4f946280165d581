package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/provider"
	"github.com/shaiso/Relay/internal/telemetry"
)

// ReasonSubscriberUnavailable — причина отмены trigger runs получателя,
// недоступного у провайдера.
const ReasonSubscriberUnavailable = "Subscriber unavailable (provider error 551)"

// handle обрабатывает одну доставку из очереди.
// nil — ack. Ошибка повторной публикации возвращает сообщение в очередь.
func (w *Worker) handle(ctx context.Context, d *mq.Delivery) error {
	job, err := mq.ParsePayload[domain.Job](&d.Message)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", mq.ErrReject, ErrInvalidJob, err)
	}
	if job.PageID == "" || job.UserID == "" {
		return fmt.Errorf("%w: %w: missing page or recipient", mq.ErrReject, ErrInvalidJob)
	}
	if a := d.Attempt(); a > job.Attempt {
		job.Attempt = a
	}

	if err := w.throughput.Wait(ctx); err != nil {
		return fmt.Errorf("wait for throughput: %w", err)
	}

	start := time.Now()
	out := w.Process(ctx, job)
	telemetry.JobDuration.Observe(time.Since(start).Seconds())

	return w.finalize(ctx, job, out)
}

// Process выполняет одну попытку доставки и решает, что делать с job.
// Ack и повторную публикацию выполняет вызывающий.
func (w *Worker) Process(ctx context.Context, job domain.Job) Outcome {
	logger := w.jobLogger(job)

	if w.purges != nil {
		purged, err := w.purges.IsPurged(ctx, job.Kind, job.RunID)
		if err != nil {
			logger.Warn("purge check failed, processing job", "error", err)
		}
		if purged {
			logger.Debug("run purged, dropping job")
			return Outcome{Kind: OutcomeDrop}
		}
	}

	if w.breaker.IsOpen(job.PageID) {
		logger.Warn("circuit breaker open, skipping job")
		entry := job.NewLogEntry(domain.LogStatusAuthError)
		entry.ErrorCode = CodeCircuitOpen
		entry.ErrorMessage = ErrCircuitOpen.Error()
		return terminal(entry, nil)
	}

	if w.limiter != nil {
		allowed, err := w.limiter.Allow(ctx, job.PageID)
		if err != nil {
			logger.Warn("rate limiter unavailable, admitting job", "error", err)
		}
		if !allowed {
			logger.Debug("page rate limit reached, delaying job")
			return throttled(w.limiter.Window())
		}
	}

	res := w.sender.Send(ctx, job.AccessToken, job.UserID, job.Message)
	if res.OK() {
		w.breaker.RecordSuccess(job.PageID)
		entry := job.NewLogEntry(domain.LogStatusSent)
		sentAt := w.now().UTC()
		entry.SentAt = &sentAt
		return success(entry)
	}

	perr := res.Err
	class := provider.Classify(perr.Code)
	logger = logger.With("error_code", perr.Code, "class", class)

	entryWith := func(status domain.LogStatus) domain.LogEntry {
		e := job.NewLogEntry(status)
		e.ErrorCode = perr.Code
		e.ErrorMessage = perr.Message
		return e
	}

	switch class {
	case provider.ClassRateLimit:
		logger.Info("provider rate limit, will retry", "error", perr.Message)
		return retry(entryWith(domain.LogStatusRateLimited), perr)

	case provider.ClassAuth:
		logger.Warn("auth error, not retrying", "error", perr.Message)
		w.breaker.RecordFailure(job.PageID)
		return terminal(entryWith(domain.LogStatusAuthError), perr)

	case provider.ClassPermanent:
		logger.Warn("permanent error, not retrying", "error", perr.Message)
		if provider.ShouldDeactivateSubscriber(perr.Code) {
			w.deactivateAsync(job)
		}
		return terminal(entryWith(domain.LogStatusFailed), perr)

	default:
		logger.Info("transient error, will retry", "error", perr.Message)
		return retry(entryWith(domain.LogStatusFailed), perr)
	}
}

// finalize применяет решение Process.
func (w *Worker) finalize(ctx context.Context, job domain.Job, out Outcome) error {
	logger := w.jobLogger(job)

	switch out.Kind {
	case OutcomeDrop:
		telemetry.JobsProcessed.WithLabelValues("dropped").Inc()
		return nil

	case OutcomeSuccess, OutcomeTerminal:
		w.writeLog(ctx, *out.Entry, logger)
		telemetry.JobsProcessed.WithLabelValues(string(out.Entry.Status)).Inc()
		return nil
	}

	if out.Throttled {
		if err := w.requeuer.Requeue(ctx, job, out.Delay); err != nil {
			return fmt.Errorf("requeue throttled job: %w", err)
		}
		telemetry.JobsProcessed.WithLabelValues("throttled").Inc()
		return nil
	}

	if job.Attempt+1 < w.maxAttempts {
		delay := w.Backoff(job.Attempt)
		next := job
		next.Attempt++
		if err := w.requeuer.Requeue(ctx, next, delay); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		logger.Debug("job scheduled for retry", "next_attempt", next.Attempt, "delay", delay)
		telemetry.JobsProcessed.WithLabelValues("retry").Inc()
		return nil
	}

	logger.Warn("retry attempts exhausted", "attempts", job.Attempt+1)
	w.writeLog(ctx, *out.Entry, logger)
	telemetry.JobsProcessed.WithLabelValues(string(out.Entry.Status)).Inc()
	return nil
}

// writeLog передаёт запись в log writer. Ошибка сброса не теряет запись:
// она остаётся в буфере до следующего сброса.
func (w *Worker) writeLog(ctx context.Context, entry domain.LogEntry, logger *slog.Logger) {
	if err := w.logs.Add(ctx, entry); err != nil {
		logger.Error("log flush failed, entry kept in buffer", "error", err)
	}
}

// deactivateAsync деактивирует получателя и отменяет его trigger runs
// в фоне, не задерживая текущий job.
func (w *Worker) deactivateAsync(job domain.Job) {
	if w.subscribers == nil && w.triggerRuns == nil {
		return
	}

	w.sideEffects.Add(1)
	go func() {
		defer w.sideEffects.Done()

		ctx, cancel := context.WithTimeout(context.Background(), defaultSideEffectTimeout)
		defer cancel()

		logger := w.jobLogger(job)

		if w.subscribers != nil {
			if err := w.subscribers.Deactivate(ctx, job.PageID, job.UserID); err != nil {
				logger.Error("failed to deactivate subscriber", "error", err)
			} else {
				logger.Info("subscriber deactivated")
			}
		}

		if job.Kind == domain.JobKindTrigger && w.triggerRuns != nil {
			n, err := w.triggerRuns.CancelActiveForRecipient(ctx, job.PageID, job.UserID, ReasonSubscriberUnavailable)
			if err != nil {
				logger.Error("failed to cancel trigger runs", "error", err)
				return
			}
			logger.Info("trigger runs cancelled", "count", n)
		}
	}()
}

func (w *Worker) jobLogger(job domain.Job) *slog.Logger {
	l := w.logger.With(
		"job_id", job.ID,
		"page_id", job.PageID,
		"user_id", job.UserID,
		"attempt", job.Attempt,
	)
	if job.Kind == domain.JobKindTrigger {
		return l.With("trigger_run_id", job.RunID)
	}
	return l.With("run_id", job.RunID)
}
