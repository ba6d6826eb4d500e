package payment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ofs/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
)

type webhookFixture struct {
	svc      *WebhookService
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	provider *MockProvider
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	outbox := memory.NewOutboxRepository()
	provider := NewMockProvider()

	machine := lifecycle.NewMachine(orders, ledger, outbox, nil, lifecycle.WithoutMetrics())
	svc := NewWebhookService(provider, machine, outbox, nil)
	return &webhookFixture{svc: svc, orders: orders, outbox: outbox, provider: provider}
}

func (f *webhookFixture) seedPendingOrder(t *testing.T) {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-1",
		CustomerEmail: "cliente@example.com",
		CustomerName:  "Ana",
		Status:        domain.OrderStatusPendingPayment,
		Currency:      "PEN",
		AmountMinor:   2590,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "lomo saltado", Qty: 1, PriceMinor: 2590, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *webhookFixture) confirmations(t *testing.T) []domain.OutboxMessage {
	t.Helper()

	pending, err := f.outbox.PullPending(100)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, msg := range pending {
		if msg.AggregateType == "payment" {
			result = append(result, msg)
		}
	}
	return result
}

func TestHandleNotificationApproved(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedPendingOrder(t)
	f.provider.Payments["pay-1"] = domain.PaymentInfo{
		ID:                "pay-1",
		Status:            domain.PaymentStateApproved,
		ExternalReference: "tenant-1:order-1",
	}

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{
		Type:      "payment",
		PaymentID: "pay-1",
	})
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}

	order, err := f.orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}

	confirmations := f.confirmations(t)
	if len(confirmations) != 1 {
		t.Fatalf("expected 1 confirmation event, got %d", len(confirmations))
	}
	if confirmations[0].EventType != string(kafka.EventTypePaymentConfirmed) {
		t.Fatalf("expected payment.confirmed, got %s", confirmations[0].EventType)
	}

	var event kafka.PaymentEvent
	if err := json.Unmarshal(confirmations[0].Payload, &event); err != nil {
		t.Fatalf("decode confirmation payload: %v", err)
	}
	if event.Payment.CustomerEmail != "cliente@example.com" {
		t.Fatalf("expected customer email in event, got %q", event.Payment.CustomerEmail)
	}
	if event.Payment.PaymentID != "pay-1" {
		t.Fatalf("expected payment id pay-1, got %q", event.Payment.PaymentID)
	}
}

func TestHandleNotificationDuplicate(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedPendingOrder(t)
	f.provider.Payments["pay-1"] = domain.PaymentInfo{
		ID:                "pay-1",
		Status:            domain.PaymentStateApproved,
		ExternalReference: "tenant-1:order-1",
	}
	notification := domain.PaymentNotification{Type: "payment", PaymentID: "pay-1"}

	if err := f.svc.HandleNotification(context.Background(), notification); err != nil {
		t.Fatalf("first notification failed: %v", err)
	}
	if err := f.svc.HandleNotification(context.Background(), notification); err != nil {
		t.Fatalf("duplicate notification must ack softly, got %v", err)
	}

	if got := len(f.confirmations(t)); got != 1 {
		t.Fatalf("duplicate must not enqueue a second confirmation, got %d", got)
	}
}

func TestHandleNotificationNonApproved(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedPendingOrder(t)
	f.provider.Payments["pay-1"] = domain.PaymentInfo{
		ID:                "pay-1",
		Status:            domain.PaymentStatePending,
		ExternalReference: "tenant-1:order-1",
	}

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{PaymentID: "pay-1"})
	if err != nil {
		t.Fatalf("non-approved payment must ack softly, got %v", err)
	}

	order, err := f.orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("order must stay pending, got %s", order.Status)
	}
}

func TestHandleNotificationMalformedReference(t *testing.T) {
	f := newWebhookFixture(t)
	f.provider.Payments["pay-1"] = domain.PaymentInfo{
		ID:                "pay-1",
		Status:            domain.PaymentStateApproved,
		ExternalReference: "no-separator",
	}

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{PaymentID: "pay-1"})
	if err != nil {
		t.Fatalf("malformed reference must ack softly, got %v", err)
	}
}

func TestHandleNotificationUnknownPayment(t *testing.T) {
	f := newWebhookFixture(t)

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{PaymentID: "pay-missing"})
	if err != nil {
		t.Fatalf("unknown payment must ack softly, got %v", err)
	}
}

func TestHandleNotificationIgnoresOtherTypes(t *testing.T) {
	f := newWebhookFixture(t)

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{
		Type:      "merchant_order",
		PaymentID: "pay-1",
	})
	if err != nil {
		t.Fatalf("non-payment notification must ack softly, got %v", err)
	}
	if f.provider.GetCalls != 0 {
		t.Fatalf("provider must not be called for non-payment types, got %d calls", f.provider.GetCalls)
	}
}

func TestHandleNotificationProviderOutage(t *testing.T) {
	f := newWebhookFixture(t)
	f.provider.PaymentErr = domain.ErrPaymentTemporary

	err := f.svc.HandleNotification(context.Background(), domain.PaymentNotification{PaymentID: "pay-1"})
	if err == nil {
		t.Fatal("provider outage must surface an error so the provider retries")
	}
}
