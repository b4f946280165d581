package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// TriggerRunRepo — репозиторий trigger runs.
type TriggerRunRepo struct {
	pool *pgxpool.Pool
}

// NewTriggerRunRepo создаёт новый TriggerRunRepo.
func NewTriggerRunRepo(pool *pgxpool.Pool) *TriggerRunRepo {
	return &TriggerRunRepo{pool: pool}
}

const triggerRunColumns = `
	id, trigger_id, owner_user_id, recipient_user_id, page_id, flow_id, status,
	start_at, next_step_id, next_step_at, last_step_id, completed_at, error_details,
	created_at, updated_at`

// ListDue возвращает trigger runs, которые пора продвигать.
// running не выбирается: такой run либо обрабатывается сейчас, либо
// требует ручного восстановления.
func (r *TriggerRunRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TriggerRun, error) {
	query := `
		SELECT` + triggerRunColumns + `
		FROM trigger_runs
		WHERE (status = 'queued' AND (start_at IS NULL OR start_at <= $1))
		   OR (status = 'waiting' AND next_step_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due trigger runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.TriggerRun
	for rows.Next() {
		run, err := scanTriggerRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetByID возвращает trigger run по ID.
func (r *TriggerRunRepo) GetByID(ctx context.Context, id int64) (*domain.TriggerRun, error) {
	query := `SELECT` + triggerRunColumns + ` FROM trigger_runs WHERE id = $1`
	return scanTriggerRun(r.pool.QueryRow(ctx, query, id))
}

// Claim атомарно переводит trigger run из from в running.
func (r *TriggerRunRepo) Claim(ctx context.Context, id int64, from domain.RunStatus, now time.Time) (bool, error) {
	query := `
		UPDATE trigger_runs
		SET status = 'running', updated_at = $3
		WHERE id = $1 AND status = $2
		  AND ($2 <> 'waiting' OR next_step_at <= $3)
	`
	result, err := r.pool.Exec(ctx, query, id, string(from), now)
	if err != nil {
		return false, fmt.Errorf("claim trigger run %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// SaveProgress сохраняет состояние trigger run после обхода flow.
func (r *TriggerRunRepo) SaveProgress(ctx context.Context, id int64, p domain.Progress) error {
	query := `
		UPDATE trigger_runs
		SET status = $2, next_step_id = $3, next_step_at = $4, last_step_id = $5,
		    completed_at = $6, updated_at = now()
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.pool.Exec(ctx, query,
		id,
		string(p.Status),
		nullString(p.NextStepID),
		p.NextStepAt,
		nullString(p.LastStepID),
		p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save trigger run %d progress: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("save trigger run %d progress: %w", id, ErrInvalidState)
	}
	return nil
}

// MarkFailed переводит trigger run в failed.
func (r *TriggerRunRepo) MarkFailed(ctx context.Context, id int64, details json.RawMessage) error {
	query := `
		UPDATE trigger_runs
		SET status = 'failed', error_details = $2, next_step_at = NULL, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, []byte(details))
	if err != nil {
		return fmt.Errorf("mark trigger run %d failed: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel переводит незавершённый trigger run в cancelled с причиной.
func (r *TriggerRunRepo) Cancel(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE trigger_runs
		SET status = 'cancelled', error_details = $2, next_step_at = NULL,
		    completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ('finished', 'failed', 'cancelled')
	`
	result, err := r.pool.Exec(ctx, query, id, reasonJSON(reason))
	if err != nil {
		return fmt.Errorf("cancel trigger run %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("cancel trigger run %d: %w", id, ErrInvalidState)
	}
	return nil
}

// CancelActiveForRecipient отменяет все незавершённые trigger runs получателя
// на странице. Возвращает число отменённых.
func (r *TriggerRunRepo) CancelActiveForRecipient(ctx context.Context, pageID, userID, reason string) (int64, error) {
	query := `
		UPDATE trigger_runs
		SET status = 'cancelled', error_details = $3, next_step_at = NULL,
		    completed_at = now(), updated_at = now()
		WHERE page_id = $1 AND recipient_user_id = $2
		  AND status IN ('queued', 'running', 'waiting')
	`
	result, err := r.pool.Exec(ctx, query, pageID, userID, reasonJSON(reason))
	if err != nil {
		return 0, fmt.Errorf("cancel trigger runs for %s/%s: %w", pageID, userID, err)
	}
	return result.RowsAffected(), nil
}

func reasonJSON(reason string) []byte {
	b, _ := json.Marshal(map[string]string{
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

// scanTriggerRun сканирует одну строку в TriggerRun.
func scanTriggerRun(row pgx.Row) (*domain.TriggerRun, error) {
	var run domain.TriggerRun
	var triggerID *int64
	var status string
	var nextStepID, lastStepID *string
	var details []byte

	err := row.Scan(
		&run.ID,
		&triggerID,
		&run.OwnerUserID,
		&run.RecipientUserID,
		&run.PageID,
		&run.FlowID,
		&status,
		&run.StartAt,
		&nextStepID,
		&run.NextStepAt,
		&lastStepID,
		&run.CompletedAt,
		&details,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger run: %w", err)
	}

	if triggerID != nil {
		run.TriggerID = *triggerID
	}
	run.Status = domain.RunStatus(status)
	run.NextStepID = deref(nextStepID)
	run.LastStepID = deref(lastStepID)
	if len(details) > 0 {
		run.ErrorDetails = details
	}
	return &run, nil
}
