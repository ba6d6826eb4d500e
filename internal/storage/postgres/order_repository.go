package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			tenant_id, id, customer_email, customer_name, status, currency, amount_minor,
			preference_id, token_kitchen, token_packaging, token_delivery,
			version, created_at, paid_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.TenantID, order.ID, order.CustomerEmail, order.CustomerName,
		string(order.Status), order.Currency, order.AmountMinor,
		order.PreferenceID, order.TokenKitchen, order.TokenPackaging, order.TokenDelivery,
		order.Version, order.CreatedAt, nullTime(order.PaidAt), order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, tenant_id, order_id, name, qty, price_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, order.TenantID, order.ID, item.Name, item.Qty, item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

const orderColumns = `
	tenant_id, id, customer_email, customer_name, status, currency, amount_minor,
	preference_id, token_kitchen, token_packaging, token_delivery,
	version, created_at, paid_at, updated_at
`

func (r *orderRepository) Get(tenantID, orderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.getTx(ctx, r.db, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// rowQuerier покрывает и *sql.DB, и *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *orderRepository) getTx(ctx context.Context, q rowQuerier, tenantID, orderID string) (domain.Order, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) ListActive(tenantID string, limit int) ([]domain.Order, error) {
	return r.list(tenantID, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND status <> '`+string(domain.OrderStatusDelivered)+`'
		ORDER BY created_at DESC, id DESC
	`, nil, limit)
}

func (r *orderRepository) ListByEmail(tenantID, email string, limit int) ([]domain.Order, error) {
	return r.list(tenantID, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE tenant_id = $1 AND customer_email = $2
		ORDER BY created_at DESC, id DESC
	`, []any{email}, limit)
}

func (r *orderRepository) list(tenantID, query string, extra []any, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	args := append([]any{tenantID}, extra...)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		items, err := r.loadItems(ctx, order.TenantID, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// ApplyTransition выполняет условное обновление одной командой UPDATE:
// предикат по точному статусу-предшественнику гарантирует, что из
// конкурирующих дубликатов пройдёт ровно один.
func (r *orderRepository) ApplyTransition(tenantID, orderID string, tr domain.Transition) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var tokKitchen, tokPackaging, tokDelivery string
	if stage, ok := domain.StageForStatus(tr.Next); ok && tr.Token != "" {
		switch stage {
		case domain.StageKitchen:
			tokKitchen = tr.Token
		case domain.StagePackaging:
			tokPackaging = tr.Token
		case domain.StageDelivery:
			tokDelivery = tr.Token
		}
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1,
		    token_kitchen = $2,
		    token_packaging = $3,
		    token_delivery = $4,
		    paid_at = COALESCE($5, paid_at),
		    version = version + 1,
		    updated_at = $6
		WHERE tenant_id = $7
		  AND id = $8
		  AND status = $9
		RETURNING `+orderColumns,
		string(tr.Next),
		tokKitchen,
		tokPackaging,
		tokDelivery,
		nullTime(tr.PaidAt),
		now,
		tenantID,
		orderID,
		string(tr.Expected),
	)

	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("apply order transition: %w", err)
	}

	// Предикат не сработал: либо заказа нет, либо статус не совпал.
	// Возвращаем снимок, чтобы вызывающий различил дубликат и рассинхрон.
	snapshot, getErr := r.getTx(ctx, r.db, tenantID, orderID)
	if getErr != nil {
		return domain.Order{}, getErr
	}
	return snapshot, domain.ErrInvalidState
}

func (r *orderRepository) ClearStageToken(tenantID, orderID string, stage domain.Stage) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	column, ok := tokenColumn(stage)
	if !ok {
		return domain.Order{}, fmt.Errorf("unknown stage %q", stage)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET `+column+` = '',
		    version = version + 1,
		    updated_at = $1
		WHERE tenant_id = $2 AND id = $3
		RETURNING `+orderColumns,
		time.Now().UTC(), tenantID, orderID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("clear stage token: %w", err)
	}
	return order, nil
}

func (r *orderRepository) SetPreference(tenantID, orderID, preferenceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET preference_id = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE tenant_id = $3 AND id = $4
	`, preferenceID, time.Now().UTC(), tenantID, orderID)
	if err != nil {
		return fmt.Errorf("set order preference: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// scanTarget покрывает *sql.Row и *sql.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanOrder(row scanTarget) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		paidAt sql.NullTime
	)

	err := row.Scan(
		&order.TenantID, &order.ID, &order.CustomerEmail, &order.CustomerName,
		&status, &order.Currency, &order.AmountMinor,
		&order.PreferenceID, &order.TokenKitchen, &order.TokenPackaging, &order.TokenDelivery,
		&order.Version, &order.CreatedAt, &paidAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, tenantID, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, qty, price_minor, created_at
		FROM order_items
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at ASC, id ASC
	`, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func tokenColumn(stage domain.Stage) (string, bool) {
	switch stage {
	case domain.StageKitchen:
		return "token_kitchen", true
	case domain.StagePackaging:
		return "token_packaging", true
	case domain.StageDelivery:
		return "token_delivery", true
	default:
		return "", false
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
