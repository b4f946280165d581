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

// RunRepo — репозиторий bulk runs (message_runs).
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, user_id, flow_id, page_ids, status, start_at, next_step_id, next_step_at,
	last_step_id, completed_at, error_summary, created_at, updated_at`

// ListDue возвращает runs, которые пора продвигать:
// queued с наступившим (или пустым) start_at и waiting с наступившим next_step_at.
func (r *RunRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT` + runColumns + `
		FROM message_runs
		WHERE (status = 'queued' AND (start_at IS NULL OR start_at <= $1))
		   OR (status = 'waiting' AND next_step_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id int64) (*domain.Run, error) {
	query := `SELECT` + runColumns + ` FROM message_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// Claim атомарно переводит run из from в running.
// Возвращает false без ошибки, если run уже захвачен другим планировщиком.
// Для waiting дополнительно проверяется, что next_step_at наступил.
func (r *RunRepo) Claim(ctx context.Context, id int64, from domain.RunStatus, now time.Time) (bool, error) {
	query := `
		UPDATE message_runs
		SET status = 'running', updated_at = $3
		WHERE id = $1 AND status = $2
		  AND ($2 <> 'waiting' OR next_step_at <= $3)
	`
	result, err := r.pool.Exec(ctx, query, id, string(from), now)
	if err != nil {
		return false, fmt.Errorf("claim run %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// SaveProgress сохраняет состояние run после обхода flow.
// Обновляет только run в статусе running, иначе ErrInvalidState.
func (r *RunRepo) SaveProgress(ctx context.Context, id int64, p domain.Progress) error {
	query := `
		UPDATE message_runs
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
		return fmt.Errorf("save run %d progress: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("save run %d progress: %w", id, ErrInvalidState)
	}
	return nil
}

// MarkFailed переводит run в failed с описанием ошибки.
func (r *RunRepo) MarkFailed(ctx context.Context, id int64, summary json.RawMessage) error {
	query := `
		UPDATE message_runs
		SET status = 'failed', error_summary = $2, next_step_at = NULL, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, []byte(summary))
	if err != nil {
		return fmt.Errorf("mark run %d failed: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var pageIDs []byte
	var status string
	var nextStepID, lastStepID *string
	var errorSummary []byte

	err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.FlowID,
		&pageIDs,
		&status,
		&run.StartAt,
		&nextStepID,
		&run.NextStepAt,
		&lastStepID,
		&run.CompletedAt,
		&errorSummary,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.PageIDs, err = ParsePageIDs(pageIDs)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", run.ID, err)
	}
	run.Status = domain.RunStatus(status)
	run.NextStepID = deref(nextStepID)
	run.LastStepID = deref(lastStepID)
	if len(errorSummary) > 0 {
		run.ErrorSummary = errorSummary
	}
	return &run, nil
}
