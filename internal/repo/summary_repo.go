package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// SummaryRepo собирает сводку исходов run для оператора.
type SummaryRepo struct {
	runs     *RunRepo
	triggers *TriggerRunRepo
	logs     *LogRepo
}

// NewSummaryRepo создаёт новый SummaryRepo.
func NewSummaryRepo(pool *pgxpool.Pool) *SummaryRepo {
	return &SummaryRepo{
		runs:     NewRunRepo(pool),
		triggers: NewTriggerRunRepo(pool),
		logs:     NewLogRepo(pool),
	}
}

// Summary возвращает статус run и количество логов по статусам.
func (r *SummaryRepo) Summary(ctx context.Context, kind domain.JobKind, id int64) (*domain.RunSummary, error) {
	s := &domain.RunSummary{ID: id, Kind: kind}

	switch kind {
	case domain.JobKindRun:
		run, err := r.runs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Status = run.Status
		s.Details = run.ErrorSummary
	case domain.JobKindTrigger:
		run, err := r.triggers.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Status = run.Status
		s.Details = run.ErrorDetails
	default:
		return nil, fmt.Errorf("unknown run kind %q", kind)
	}

	counts, err := r.logs.CountByStatus(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.Counts = counts
	for _, n := range counts {
		s.Total += n
	}
	return s, nil
}
