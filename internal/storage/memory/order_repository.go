package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

func orderKey(tenantID, orderID string) string {
	return tenantID + "/" + orderID
}

// Create сохраняет новый заказ, если ключ ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.TenantID, order.ID)
	if _, exists := r.items[key]; exists {
		return domain.ErrOrderExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	r.items[key] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(tenantID, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderKey(tenantID, orderID)]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListActive возвращает незавершённые заказы арендатора, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListActive(tenantID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.TenantID != tenantID {
			continue
		}
		if order.Status == domain.OrderStatusDelivered {
			continue
		}
		result = append(result, order)
	}

	sortOrders(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListByEmail возвращает заказы клиента по email в рамках арендатора.
func (r *orderRepositoryInMemory) ListByEmail(tenantID, email string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.TenantID != tenantID || order.CustomerEmail != email {
			continue
		}
		result = append(result, order)
	}

	sortOrders(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ApplyTransition применяет условный переход под общей блокировкой: из
// конкурирующих дубликатов ровно один увидит ожидаемый статус.
func (r *orderRepositoryInMemory) ApplyTransition(tenantID, orderID string, tr domain.Transition) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(tenantID, orderID)
	order, ok := r.items[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status != tr.Expected {
		// Возвращаем снимок, чтобы вызывающий мог отличить дубликат
		// от перехода не в очередь.
		return order, domain.ErrInvalidState
	}

	order.Status = tr.Next
	order.TokenKitchen, order.TokenPackaging, order.TokenDelivery = "", "", ""
	if stage, ok := domain.StageForStatus(tr.Next); ok && tr.Token != "" {
		order.SetStageToken(stage, tr.Token)
	}
	if !tr.PaidAt.IsZero() {
		order.PaidAt = tr.PaidAt
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()

	r.items[key] = order
	return order, nil
}

// ClearStageToken убирает токен стадии после успешного resume.
func (r *orderRepositoryInMemory) ClearStageToken(tenantID, orderID string, stage domain.Stage) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(tenantID, orderID)
	order, ok := r.items[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	order.ClearStageToken(stage)
	order.Version++
	order.UpdatedAt = time.Now().UTC()

	r.items[key] = order
	return order, nil
}

// SetPreference сохраняет идентификатор checkout-преференции.
func (r *orderRepositoryInMemory) SetPreference(tenantID, orderID, preferenceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(tenantID, orderID)
	order, ok := r.items[key]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.PreferenceID = preferenceID
	order.Version++
	order.UpdatedAt = time.Now().UTC()

	r.items[key] = order
	return nil
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
