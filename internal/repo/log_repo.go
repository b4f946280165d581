package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// LogRepo — журнал доставки (message_logs).
type LogRepo struct {
	pool *pgxpool.Pool
}

// NewLogRepo создаёт новый LogRepo.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

var logColumns = []string{
	"run_id", "trigger_run_id", "page_id", "user_id", "status",
	"error_code", "error_message", "sent_at",
}

// InsertBatch вставляет пачку записей одним COPY.
func (r *LogRepo) InsertBatch(ctx context.Context, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"message_logs"},
		logColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{
				e.RunID,
				e.TriggerRunID,
				e.PageID,
				e.UserID,
				string(e.Status),
				nullString(e.ErrorCode),
				nullString(e.ErrorMessage),
				e.SentAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy message logs: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copy message logs: inserted %d of %d", n, len(entries))
	}
	return nil
}

// CountByStatus возвращает количество записей по статусам для run
// или trigger run.
func (r *LogRepo) CountByStatus(ctx context.Context, kind domain.JobKind, id int64) (map[domain.LogStatus]int64, error) {
	column := "run_id"
	if kind == domain.JobKindTrigger {
		column = "trigger_run_id"
	}

	query := `
		SELECT status, count(*)
		FROM message_logs
		WHERE ` + column + ` = $1
		GROUP BY status
	`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("count logs of %s %d: %w", kind, id, err)
	}
	defer rows.Close()

	counts := make(map[domain.LogStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan log count: %w", err)
		}
		counts[domain.LogStatus(status)] = n
	}
	return counts, rows.Err()
}
