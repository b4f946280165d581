package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
)

// Зависимости процессоров. Реализуются пакетами repo и mq.
type (
	RunStore interface {
		ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Run, error)
		Claim(ctx context.Context, id int64, from domain.RunStatus, now time.Time) (bool, error)
		SaveProgress(ctx context.Context, id int64, p domain.Progress) error
		MarkFailed(ctx context.Context, id int64, summary json.RawMessage) error
	}

	TriggerRunStore interface {
		ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TriggerRun, error)
		Claim(ctx context.Context, id int64, from domain.RunStatus, now time.Time) (bool, error)
		SaveProgress(ctx context.Context, id int64, p domain.Progress) error
		MarkFailed(ctx context.Context, id int64, details json.RawMessage) error
		Cancel(ctx context.Context, id int64, reason string) error
	}

	FlowSource interface {
		GetByID(ctx context.Context, id uuid.UUID) (*domain.FlowRecord, error)
	}

	PageSource interface {
		GetActive(ctx context.Context, pageID, ownerUserID string, now time.Time) (*domain.Page, error)
	}

	SubscriberSource interface {
		ListActive(ctx context.Context, pageID, afterUserID string, limit int) ([]domain.Subscriber, error)
	}

	JobPublisher interface {
		PublishJobs(ctx context.Context, jobs []domain.Job) error
	}
)

// Recipient — получатель и credential, от имени которого идёт отправка.
type Recipient struct {
	Kind        domain.JobKind
	RunID       int64
	FlowID      uuid.UUID
	PageID      string
	UserID      string
	AccessToken string
}

// BuildJobs превращает сообщения одного обхода в jobs для получателя.
//
// Плейсхолдер {{USER_ID}} подставляется в каждое сообщение. Сообщение
// с индексом i откладывается на i*spacing, чтобы порядок сообщений
// одному получателю сохранялся при конкурентной доставке.
func BuildJobs(r Recipient, messages []engine.Message, spacing time.Duration, priority uint8) ([]domain.Job, error) {
	vars := map[string]string{engine.PlaceholderUserID: r.UserID}

	jobs := make([]domain.Job, 0, len(messages))
	for i, m := range messages {
		payload, err := engine.SubstitutePlaceholders(m.Payload, vars)
		if err != nil {
			return nil, fmt.Errorf("message %d (node %s): %w", i, m.NodeID, err)
		}

		jobs = append(jobs, domain.Job{
			ID:           uuid.New(),
			Kind:         r.Kind,
			RunID:        r.RunID,
			PageID:       r.PageID,
			UserID:       r.UserID,
			AccessToken:  r.AccessToken,
			FlowID:       r.FlowID,
			NodeID:       m.NodeID,
			Message:      payload,
			MessageIndex: i,
			Delay:        time.Duration(i) * spacing,
			Priority:     priority,
		})
	}
	return jobs, nil
}

// loadAndTraverse загружает flow и продолжает обход с nextStepID.
//
// Run, проснувшийся после wait без исходящего connection, завершён:
// обход с пустого nextStepID начал бы flow заново.
func loadAndTraverse(ctx context.Context, flows FlowSource, eng *engine.Engine, flowID uuid.UUID, status domain.RunStatus, nextStepID string) (*engine.Result, error) {
	if status == domain.RunStatusWaiting && nextStepID == "" {
		return &engine.Result{IsComplete: true}, nil
	}

	rec, err := flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("get flow %s: %w", flowID, err)
	}

	flow, err := engine.Load(rec.Graph)
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", flowID, err)
	}

	res, err := eng.Traverse(flow, nextStepID)
	if err != nil {
		return nil, fmt.Errorf("traverse flow %s from %q: %w", flowID, nextStepID, err)
	}
	return res, nil
}
