package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// SubscriberRepo — подписчики страниц (meta_subscribers).
type SubscriberRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriberRepo создаёт новый SubscriberRepo.
func NewSubscriberRepo(pool *pgxpool.Pool) *SubscriberRepo {
	return &SubscriberRepo{pool: pool}
}

// ListActive возвращает до limit активных подписчиков с user_id больше
// afterUserID в порядке user_id. Пустой afterUserID — первая страница.
// Деактивация уже выбранных подписчиков не сдвигает следующие страницы.
func (r *SubscriberRepo) ListActive(ctx context.Context, pageID, afterUserID string, limit int) ([]domain.Subscriber, error) {
	query := `
		SELECT page_id, user_id
		FROM meta_subscribers
		WHERE page_id = $1 AND is_active AND user_id > $2
		ORDER BY user_id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, pageID, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscribers of %s: %w", pageID, err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.PageID, &s.UserID); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Deactivate помечает подписчика неактивным.
func (r *SubscriberRepo) Deactivate(ctx context.Context, pageID, userID string) error {
	query := `
		UPDATE meta_subscribers
		SET is_active = false, updated_at = now()
		WHERE page_id = $1 AND user_id = $2 AND is_active
	`
	if _, err := r.pool.Exec(ctx, query, pageID, userID); err != nil {
		return fmt.Errorf("deactivate subscriber %s/%s: %w", pageID, userID, err)
	}
	return nil
}
