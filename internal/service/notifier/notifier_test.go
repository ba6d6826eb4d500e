package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
)

type stubMailer struct {
	sendErr  error
	sent     int
	lastTo   string
	lastSubj string
	lastBody string
}

func (m *stubMailer) Send(_ context.Context, to, subject, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent++
	m.lastTo = to
	m.lastSubj = subject
	m.lastBody = body
	return nil
}

type stubReceiptStore struct {
	putErr   error
	puts     int
	lastKey  string
	lastBody []byte
}

func (s *stubReceiptStore) Put(_ context.Context, key string, body []byte) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts++
	s.lastKey = key
	s.lastBody = body
	return "s3://receipts/" + key, nil
}

func seedPaidOrder(t *testing.T, orders domain.OrderRepository) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-1",
		CustomerEmail: "cliente@example.com",
		CustomerName:  "Ana",
		Status:        domain.OrderStatusPaid,
		Currency:      "PEN",
		AmountMinor:   5180,
		PreferenceID:  "pref-1",
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "lomo saltado", Qty: 2, PriceMinor: 2590, CreatedAt: now},
		},
		CreatedAt: now,
		PaidAt:    now,
		UpdatedAt: now,
	}
	if err := orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func paymentMessage(t *testing.T, wrapped bool) *sarama.ConsumerMessage {
	t.Helper()

	event := kafka.NewPaymentEvent(domain.PaymentConfirmed{
		TenantID:      "tenant-1",
		OrderID:       "order-1",
		CustomerEmail: "cliente@example.com",
		CustomerName:  "Ana",
		PaymentID:     "pay-1",
		AmountMinor:   5180,
		Currency:      "PEN",
	})
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal payment event: %v", err)
	}

	value := payload
	if wrapped {
		envelope := kafka.OutboxEnvelope{
			ID:            "outbox-1",
			AggregateType: "payment",
			AggregateID:   "tenant-1:order-1",
			EventType:     string(kafka.EventTypePaymentConfirmed),
			Payload:       payload,
			PublishedAt:   time.Now().UTC(),
		}
		value, err = json.Marshal(envelope)
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}
	}

	return &sarama.ConsumerMessage{
		Topic: kafka.TopicPaymentEvents,
		Value: value,
	}
}

func TestEmailNotifierSendsConfirmation(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	mailer := &stubMailer{}
	notifier := NewEmailNotifier(orders, mailer, memory.NewIdempotencyRepository(), nil)

	if err := notifier.HandleMessage(context.Background(), paymentMessage(t, false)); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if mailer.sent != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.sent)
	}
	if mailer.lastTo != "cliente@example.com" {
		t.Fatalf("unexpected recipient %s", mailer.lastTo)
	}
	if !strings.Contains(mailer.lastSubj, "order-1") {
		t.Fatalf("subject must reference the order, got %q", mailer.lastSubj)
	}
	if !strings.Contains(mailer.lastBody, "Ana") || !strings.Contains(mailer.lastBody, "S/. 51.80") {
		t.Fatalf("body must carry name and total, got %q", mailer.lastBody)
	}
}

func TestEmailNotifierUnwrapsOutboxEnvelope(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	mailer := &stubMailer{}
	notifier := NewEmailNotifier(orders, mailer, memory.NewIdempotencyRepository(), nil)

	if err := notifier.HandleMessage(context.Background(), paymentMessage(t, true)); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if mailer.sent != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.sent)
	}
}

func TestEmailNotifierIdempotent(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	mailer := &stubMailer{}
	notifier := NewEmailNotifier(orders, mailer, memory.NewIdempotencyRepository(), nil)
	ctx := context.Background()

	if err := notifier.HandleMessage(ctx, paymentMessage(t, false)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := notifier.HandleMessage(ctx, paymentMessage(t, false)); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	if mailer.sent != 1 {
		t.Fatalf("redelivery must not send a second email, got %d", mailer.sent)
	}
}

func TestEmailNotifierMailerFailureIsRetryable(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	mailer := &stubMailer{sendErr: errors.New("smtp connection refused")}
	notifier := NewEmailNotifier(orders, mailer, memory.NewIdempotencyRepository(), nil)

	err := notifier.HandleMessage(context.Background(), paymentMessage(t, false))
	if err == nil {
		t.Fatal("expected error for mailer failure")
	}
}

func TestEmailNotifierSkipsForeignEvents(t *testing.T) {
	mailer := &stubMailer{}
	notifier := NewEmailNotifier(memory.NewOrderRepository(), mailer, memory.NewIdempotencyRepository(), nil)

	event := kafka.OrderEvent{EventType: kafka.EventTypeOrderKitchen, TenantID: "tenant-1", OrderID: "order-1"}
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal order event: %v", err)
	}

	if err := notifier.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: value}); err != nil {
		t.Fatalf("foreign event must be skipped, got %v", err)
	}
	if mailer.sent != 0 {
		t.Fatalf("foreign event must not send email, got %d", mailer.sent)
	}
}

func TestEmailNotifierMalformedMessage(t *testing.T) {
	notifier := NewEmailNotifier(memory.NewOrderRepository(), &stubMailer{}, memory.NewIdempotencyRepository(), nil)

	err := notifier.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")})
	if err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func TestEmailNotifierDropsIncompleteEvent(t *testing.T) {
	mailer := &stubMailer{}
	notifier := NewEmailNotifier(memory.NewOrderRepository(), mailer, memory.NewIdempotencyRepository(), nil)

	event := kafka.NewPaymentEvent(domain.PaymentConfirmed{TenantID: "tenant-1"})
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	if err := notifier.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: value}); err != nil {
		t.Fatalf("incomplete event must ack softly, got %v", err)
	}
	if mailer.sent != 0 {
		t.Fatalf("incomplete event must not send email, got %d", mailer.sent)
	}
}

func TestReceiptGeneratorStoresReceipt(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	store := &stubReceiptStore{}
	generator := NewReceiptGenerator(orders, store, memory.NewIdempotencyRepository(), nil)

	if err := generator.HandleMessage(context.Background(), paymentMessage(t, true)); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if store.puts != 1 {
		t.Fatalf("expected 1 stored receipt, got %d", store.puts)
	}
	if store.lastKey != "recibos/cliente@example.com.txt" {
		t.Fatalf("unexpected receipt key %s", store.lastKey)
	}

	receipt := string(store.lastBody)
	for _, want := range []string{"RECIBO DE PAGO", "order-1", "pay-1", "pref-1", "lomo saltado", "Cantidad: 2", "S/. 51.80"} {
		if !strings.Contains(receipt, want) {
			t.Errorf("receipt must contain %q, got:\n%s", want, receipt)
		}
	}
}

func TestReceiptGeneratorIdempotent(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	store := &stubReceiptStore{}
	generator := NewReceiptGenerator(orders, store, memory.NewIdempotencyRepository(), nil)
	ctx := context.Background()

	if err := generator.HandleMessage(ctx, paymentMessage(t, false)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := generator.HandleMessage(ctx, paymentMessage(t, false)); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	if store.puts != 1 {
		t.Fatalf("redelivery must not store a second receipt, got %d", store.puts)
	}
}

func TestReceiptGeneratorStoreFailureIsRetryable(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedPaidOrder(t, orders)
	store := &stubReceiptStore{putErr: errors.New("bucket unavailable")}
	generator := NewReceiptGenerator(orders, store, memory.NewIdempotencyRepository(), nil)

	err := generator.HandleMessage(context.Background(), paymentMessage(t, false))
	if err == nil {
		t.Fatal("expected error for store failure")
	}
}

func TestReceiptGeneratorUnknownOrder(t *testing.T) {
	store := &stubReceiptStore{}
	generator := NewReceiptGenerator(memory.NewOrderRepository(), store, memory.NewIdempotencyRepository(), nil)

	if err := generator.HandleMessage(context.Background(), paymentMessage(t, false)); err != nil {
		t.Fatalf("unknown order must ack softly, got %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("unknown order must not store a receipt, got %d", store.puts)
	}
}
