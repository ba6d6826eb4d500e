package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

type subscriberRepository struct {
	db *sql.DB
}

// NewSubscriberRegistry создаёт PostgreSQL-реализацию SubscriberRegistry.
func NewSubscriberRegistry(store *Store) domain.SubscriberRegistry {
	return &subscriberRepository{db: store.DB()}
}

// Register сохраняет подключение; повторная регистрация перезаписывает роль.
func (r *subscriberRepository) Register(sub domain.Subscriber) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if sub.RegisteredAt.IsZero() {
		sub.RegisteredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers (connection_id, role, tenant_id, registered_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (connection_id)
		DO UPDATE SET role = EXCLUDED.role,
		              tenant_id = EXCLUDED.tenant_id,
		              registered_at = EXCLUDED.registered_at
	`, sub.ConnectionID, string(sub.Role), sub.TenantID, sub.RegisteredAt)
	if err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}
	return nil
}

// Deregister удаляет подключение; несуществующее — не ошибка.
func (r *subscriberRepository) Deregister(connectionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM subscribers WHERE connection_id = $1
	`, connectionID); err != nil {
		return fmt.Errorf("deregister subscriber: %w", err)
	}
	return nil
}

func (r *subscriberRepository) ListByRole(role domain.SubscriberRole) ([]domain.Subscriber, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT connection_id, role, tenant_id, registered_at
		FROM subscribers
		WHERE role = $1
		ORDER BY connection_id ASC
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscriber, 0)
	for rows.Next() {
		var (
			sub     domain.Subscriber
			roleRaw string
		)
		if err := rows.Scan(&sub.ConnectionID, &roleRaw, &sub.TenantID, &sub.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.Role = domain.SubscriberRole(roleRaw)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}

	return subs, nil
}

var _ domain.SubscriberRegistry = (*subscriberRepository)(nil)
