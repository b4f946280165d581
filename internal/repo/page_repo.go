package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// PageRepo — credentials страниц (meta_pages).
type PageRepo struct {
	pool *pgxpool.Pool
}

// NewPageRepo создаёт новый PageRepo.
func NewPageRepo(pool *pgxpool.Pool) *PageRepo {
	return &PageRepo{pool: pool}
}

// GetActive возвращает активную незаблокированную страницу владельца.
// ErrNotFound, если такой нет.
func (r *PageRepo) GetActive(ctx context.Context, pageID, ownerUserID string, now time.Time) (*domain.Page, error) {
	query := `
		SELECT page_id, user_id, access_token, is_active, blocked_until
		FROM meta_pages
		WHERE page_id = $1 AND user_id = $2
		  AND is_active
		  AND (blocked_until IS NULL OR blocked_until < $3)
		LIMIT 1
	`
	var p domain.Page
	err := r.pool.QueryRow(ctx, query, pageID, ownerUserID, now).Scan(
		&p.PageID,
		&p.UserID,
		&p.AccessToken,
		&p.IsActive,
		&p.BlockedUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", pageID, err)
	}
	return &p, nil
}
