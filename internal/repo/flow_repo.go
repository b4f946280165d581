package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// FlowRepo — репозиторий message_flows. Flows создаются вне Relay,
// здесь только чтение.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// GetByID возвращает flow с исходным JSON графа.
func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FlowRecord, error) {
	query := `
		SELECT id, name, is_active, flow, created_at, updated_at
		FROM message_flows
		WHERE id = $1
	`
	var rec domain.FlowRecord
	var graph []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Name,
		&rec.IsActive,
		&graph,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow %s: %w", id, err)
	}
	rec.Graph = graph
	return &rec, nil
}
