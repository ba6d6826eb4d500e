package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// События жизненного цикла заказа
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderPaid      EventType = "order.paid"
	EventTypeOrderKitchen   EventType = "order.kitchen"
	EventTypeOrderPackaging EventType = "order.packaging"
	EventTypeOrderDelivery  EventType = "order.delivery"
	EventTypeOrderDelivered EventType = "order.delivered"

	// Платёжные события
	EventTypePaymentConfirmed EventType = "payment.confirmed"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ofs.order.events"
	TopicPaymentEvents   = "ofs.payment.events"
	TopicDeadLetterQueue = "ofs.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType     EventType      `json:"event_type"`
	TenantID      string         `json:"tenant_id"`
	OrderID       string         `json:"order_id"`
	CustomerEmail string         `json:"customer_email"`
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PaymentEvent представляет событие подтверждённого платежа
type PaymentEvent struct {
	EventType EventType               `json:"event_type"`
	Payment   domain.PaymentConfirmed `json:"payment"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventTypeForStatus возвращает тип события для статуса заказа.
func EventTypeForStatus(status domain.OrderStatus) EventType {
	switch status {
	case domain.OrderStatusPaid:
		return EventTypeOrderPaid
	case domain.OrderStatusKitchen:
		return EventTypeOrderKitchen
	case domain.OrderStatusPackaging:
		return EventTypeOrderPackaging
	case domain.OrderStatusDelivery:
		return EventTypeOrderDelivery
	case domain.OrderStatusDelivered:
		return EventTypeOrderDelivered
	default:
		return EventTypeOrderCreated
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, order domain.Order, metadata map[string]any) *OrderEvent {
	return &OrderEvent{
		EventType:     eventType,
		TenantID:      order.TenantID,
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}

// NewPaymentEvent создает событие подтверждённого платежа
func NewPaymentEvent(payment domain.PaymentConfirmed) *PaymentEvent {
	return &PaymentEvent{
		EventType: EventTypePaymentConfirmed,
		Payment:   payment,
		Timestamp: time.Now(),
	}
}
