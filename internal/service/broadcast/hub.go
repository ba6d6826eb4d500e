package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/metrics"
)

const defaultPushTimeout = 3 * time.Second

// Hub рассылает оплаченные заказы подписчикам с ролью chef. Сама доставка
// идёт через внешний PushChannel; hub хранит только реестр подключений.
type Hub struct {
	registry    domain.SubscriberRegistry
	channel     domain.PushChannel
	logger      *log.Entry
	metrics     *metrics.LifecycleMetrics
	pushTimeout time.Duration
}

// Option настраивает Hub.
type Option func(*Hub)

// WithPushTimeout задаёт таймаут на доставку одному подписчику.
func WithPushTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.pushTimeout = timeout
		}
	}
}

// WithoutMetrics отключает метрики (для тестов).
func WithoutMetrics() Option {
	return func(h *Hub) {
		h.metrics = nil
	}
}

// NewHub создаёт fan-out hub поверх реестра подписчиков.
func NewHub(registry domain.SubscriberRegistry, channel domain.PushChannel, logger *log.Entry, options ...Option) *Hub {
	if logger == nil {
		logger = log.New().WithField("component", "broadcast")
	}
	h := &Hub{
		registry:    registry,
		channel:     channel,
		logger:      logger,
		metrics:     metrics.NewLifecycleMetrics(),
		pushTimeout: defaultPushTimeout,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Register добавляет подключение в реестр. Повторная регистрация того же
// connection id перезаписывает запись.
func (h *Hub) Register(sub domain.Subscriber) error {
	if sub.ConnectionID == "" {
		return domain.ErrSubscriberNotFound
	}
	if sub.RegisteredAt.IsZero() {
		sub.RegisteredAt = time.Now().UTC()
	}
	if err := h.registry.Register(sub); err != nil {
		return err
	}
	h.logger.WithFields(log.Fields{
		"connection_id": sub.ConnectionID,
		"role":          sub.Role,
		"tenant_id":     sub.TenantID,
	}).Info("subscriber registered")
	return nil
}

// Unregister удаляет подключение из реестра.
func (h *Hub) Unregister(connectionID string) error {
	if err := h.registry.Deregister(connectionID); err != nil {
		return err
	}
	h.logger.WithField("connection_id", connectionID).Info("subscriber unregistered")
	return nil
}

// PublishOrder доставляет заказ всем подписчикам кухни. Доставка каждому
// подписчику независимая и неупорядоченная; пропавшие подключения лениво
// выкидываются из реестра. Сбои не поднимаются наверх: publish не падает.
func (h *Hub) PublishOrder(ctx context.Context, order domain.Order) {
	subscribers, err := h.registry.ListByRole(domain.RoleChef)
	if err != nil {
		h.logger.WithError(err).Error("failed to list kitchen subscribers")
		return
	}
	if len(subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(orderPayload(order))
	if err != nil {
		h.logger.WithError(err).WithField("order_id", order.ID).Error("marshal broadcast payload failed")
		return
	}

	for _, sub := range subscribers {
		if sub.TenantID != "" && sub.TenantID != order.TenantID {
			continue
		}
		h.pushTo(ctx, sub, payload, order.ID)
	}
}

func (h *Hub) pushTo(ctx context.Context, sub domain.Subscriber, payload []byte, orderID string) {
	pushCtx, cancel := context.WithTimeout(ctx, h.pushTimeout)
	defer cancel()

	err := h.channel.Push(pushCtx, sub.ConnectionID, payload)
	switch {
	case err == nil:
		if h.metrics != nil {
			h.metrics.RecordBroadcastDelivered()
		}
	case errors.Is(err, domain.ErrConnectionGone):
		if deregErr := h.registry.Deregister(sub.ConnectionID); deregErr != nil {
			h.logger.WithError(deregErr).WithField("connection_id", sub.ConnectionID).Warn("failed to prune gone subscriber")
		} else if h.metrics != nil {
			h.metrics.RecordBroadcastPruned()
		}
		h.logger.WithFields(log.Fields{
			"connection_id": sub.ConnectionID,
			"order_id":      orderID,
		}).Info("pruned gone subscriber")
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"connection_id": sub.ConnectionID,
			"order_id":      orderID,
		}).Warn("failed to push order to subscriber")
	}
}

func orderPayload(order domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"name":        item.Name,
			"qty":         item.Qty,
			"price_minor": item.PriceMinor,
		})
	}
	return map[string]any{
		"tenant_id":      order.TenantID,
		"order_id":       order.ID,
		"customer_name":  order.CustomerName,
		"status":         string(order.Status),
		"currency":       order.Currency,
		"amount_minor":   order.AmountMinor,
		"items":          items,
		"broadcasted_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
}
