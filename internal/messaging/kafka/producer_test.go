package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

func testOrder() domain.Order {
	return domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-123",
		CustomerEmail: "cliente@example.com",
		Status:        domain.OrderStatusPaid,
	}
}

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(EventTypeOrderPaid, testOrder(), map[string]any{
		"payment_id": "pay-1",
	})

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewOrderEvent(EventTypeOrderPaid, testOrder(), nil)

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	order := testOrder()
	metadata := map[string]any{
		"worker": "ana",
	}

	event := NewOrderEvent(EventTypeOrderKitchen, order, metadata)

	if event.EventType != EventTypeOrderKitchen {
		t.Errorf("expected event type %s, got %s", EventTypeOrderKitchen, event.EventType)
	}

	if event.TenantID != order.TenantID {
		t.Errorf("expected tenant id %s, got %s", order.TenantID, event.TenantID)
	}

	if event.OrderID != order.ID {
		t.Errorf("expected order id %s, got %s", order.ID, event.OrderID)
	}

	if event.Status != string(order.Status) {
		t.Errorf("expected status %s, got %s", order.Status, event.Status)
	}

	if event.Metadata["worker"] != "ana" {
		t.Error("metadata not set correctly")
	}

	// Проверяем, что timestamp установлен
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	// Проверяем, что timestamp близок к текущему времени
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewPaymentEvent(t *testing.T) {
	event := NewPaymentEvent(domain.PaymentConfirmed{
		TenantID:      "tenant-1",
		OrderID:       "order-123",
		CustomerEmail: "cliente@example.com",
		PaymentID:     "pay-9",
	})

	if event.EventType != EventTypePaymentConfirmed {
		t.Errorf("expected event type %s, got %s", EventTypePaymentConfirmed, event.EventType)
	}
	if event.Payment.PaymentID != "pay-9" {
		t.Errorf("expected payment id pay-9, got %s", event.Payment.PaymentID)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}

func TestEventTypeForStatus(t *testing.T) {
	cases := map[domain.OrderStatus]EventType{
		domain.OrderStatusPaid:      EventTypeOrderPaid,
		domain.OrderStatusKitchen:   EventTypeOrderKitchen,
		domain.OrderStatusPackaging: EventTypeOrderPackaging,
		domain.OrderStatusDelivery:  EventTypeOrderDelivery,
		domain.OrderStatusDelivered: EventTypeOrderDelivered,
	}
	for status, want := range cases {
		if got := EventTypeForStatus(status); got != want {
			t.Errorf("status %s: expected %s, got %s", status, want, got)
		}
	}
}
