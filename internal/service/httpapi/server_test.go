package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/service/broadcast"
	"github.com/vladislavdragonenkov/ofs/internal/service/coordinator"
	"github.com/vladislavdragonenkov/ofs/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ofs/internal/service/payment"
	"github.com/vladislavdragonenkov/ofs/internal/service/workflow"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
)

type recordingChannel struct {
	mu     sync.Mutex
	pushed map[string][][]byte
}

func (c *recordingChannel) Push(_ context.Context, connectionID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushed == nil {
		c.pushed = make(map[string][][]byte)
	}
	c.pushed[connectionID] = append(c.pushed[connectionID], payload)
	return nil
}

func (c *recordingChannel) deliveries(connectionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushed[connectionID])
}

type apiFixture struct {
	handler  http.Handler
	orders   domain.OrderRepository
	ledger   domain.StageLedger
	provider *payment.MockProvider
	engine   *workflow.MockEngine
	channel  *recordingChannel
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	outbox := memory.NewOutboxRepository()
	registry := memory.NewSubscriberRegistry()
	channel := &recordingChannel{}

	hub := broadcast.NewHub(registry, channel, nil, broadcast.WithoutMetrics())
	machine := lifecycle.NewMachine(orders, ledger, outbox, nil,
		lifecycle.WithoutMetrics(),
		lifecycle.WithBroadcaster(hub),
	)
	provider := payment.NewMockProvider()
	engine := workflow.NewMockEngine()

	server := NewServer(Services{
		Checkout:    payment.NewCheckoutService(orders, provider, nil),
		Webhook:     payment.NewWebhookService(provider, machine, outbox, nil),
		Machine:     machine,
		Coordinator: coordinator.NewCoordinator(orders, ledger, engine, nil),
		Starter:     workflow.NewStarter(engine, nil),
		Hub:         hub,
		Orders:      orders,
		Ledger:      ledger,
	}, nil)

	return &apiFixture{
		handler:  server.Handler(),
		orders:   orders,
		ledger:   ledger,
		provider: provider,
		engine:   engine,
		channel:  channel,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (f *apiFixture) seedOrder(t *testing.T, status domain.OrderStatus) {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-1",
		CustomerEmail: "cliente@example.com",
		CustomerName:  "Ana",
		Status:        status,
		Currency:      "PEN",
		AmountMinor:   2590,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "lomo saltado", Qty: 1, PriceMinor: 2590, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status != domain.OrderStatusPendingPayment {
		order.PaidAt = now
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/checkout", map[string]any{
		"tenant_id":      "tenant-1",
		"customer_email": "cliente@example.com",
		"customer_name":  "Ana",
		"currency":       "PEN",
		"items": []map[string]any{
			{"name": "lomo saltado", "qty": 2, "price_minor": 2590},
			{"name": "chicha morada", "qty": 1, "price_minor": 800},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp checkoutResponse
	decodeBody(t, rec, &resp)
	if resp.AmountMinor != 5980 {
		t.Fatalf("expected amount 5980, got %d", resp.AmountMinor)
	}
	if resp.Status != string(domain.OrderStatusPendingPayment) {
		t.Fatalf("expected pending_payment, got %s", resp.Status)
	}
	if resp.PreferenceID != "pref-mock" || resp.InitPoint == "" {
		t.Fatalf("expected mock preference, got %+v", resp)
	}

	if _, err := f.orders.Get("tenant-1", resp.OrderID); err != nil {
		t.Fatalf("order must be persisted: %v", err)
	}
}

func TestCheckoutEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/checkout", map[string]any{
		"customer_email": "cliente@example.com",
		"currency":       "PEN",
		"items":          []map[string]any{{"name": "causa", "qty": 1, "price_minor": 1200}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != codeInvalidInput {
		t.Fatalf("expected invalid_input, got %s", resp.Error)
	}
}

func TestCheckoutEndpointMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookApprovedPayment(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPendingPayment)
	f.provider.Payments["pay-1"] = domain.PaymentInfo{
		ID:                "pay-1",
		Status:            domain.PaymentStateApproved,
		ExternalReference: "tenant-1:order-1",
	}

	rec := f.do(t, http.MethodPost, "/webhook/payment?type=payment&data.id=pay-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	order, err := f.orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
}

func TestWebhookBodyNotification(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPendingPayment)
	f.provider.Payments["pay-2"] = domain.PaymentInfo{
		ID:                "pay-2",
		Status:            domain.PaymentStateApproved,
		ExternalReference: "tenant-1:order-1",
	}

	rec := f.do(t, http.MethodPost, "/webhook/payment", map[string]any{
		"type": "payment",
		"data": map[string]any{"id": "pay-2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	order, _ := f.orders.Get("tenant-1", "order-1")
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
}

func TestWebhookUnknownPaymentSoftAck(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/webhook/payment?type=payment&data.id=pay-missing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown payment must be acked with 200, got %d", rec.Code)
	}
}

func TestWorkflowStartEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/workflow/start", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["execution_id"] == "" {
		t.Fatal("expected execution id")
	}

	duplicate := f.do(t, http.MethodPost, "/workflow/start", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("duplicate start must give 409, got %d", duplicate.Code)
	}

	var errResp errorResponse
	decodeBody(t, duplicate, &errResp)
	if errResp.Error != codeAlreadyRunning {
		t.Fatalf("expected already_running, got %s", errResp.Error)
	}
}

func TestTransitionKitchen(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)
	token := f.engine.IssueToken()

	rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
		"taskToken": token,
		"worker":    "maria",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	order, err := f.orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != domain.OrderStatusKitchen {
		t.Fatalf("expected kitchen, got %s", order.Status)
	}
	if order.TokenKitchen != token {
		t.Fatalf("expected kitchen token stored, got %q", order.TokenKitchen)
	}

	entry, err := f.ledger.GetEntry("tenant-1", "order-1", domain.StageKitchen)
	if err != nil {
		t.Fatalf("kitchen entry: %v", err)
	}
	if entry.Worker != "maria" {
		t.Fatalf("expected worker maria, got %s", entry.Worker)
	}
}

func TestTransitionWorkflowEnvelope(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusKitchen)

	rec := f.do(t, http.MethodPost, "/transitions/packaging", map[string]any{
		"taskToken": "token-packaging",
		"input": map[string]any{
			"tenant_id": "tenant-1",
			"order_id":  "order-1",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	order, _ := f.orders.Get("tenant-1", "order-1")
	if order.Status != domain.OrderStatusPackaging {
		t.Fatalf("expected packaging, got %s", order.Status)
	}
	if order.TokenPackaging != "token-packaging" {
		t.Fatalf("expected packaging token from envelope, got %q", order.TokenPackaging)
	}
}

func TestTransitionDuplicateCarriesStatusSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusKitchen)

	rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != codeInvalidState {
		t.Fatalf("expected invalid_state, got %s", resp.Error)
	}
	if resp.CurrentStatus != string(domain.OrderStatusKitchen) {
		t.Fatalf("expected current_status kitchen, got %s", resp.CurrentStatus)
	}
	if resp.ExpectedStatus != string(domain.OrderStatusPaid) {
		t.Fatalf("expected expected_status paid, got %s", resp.ExpectedStatus)
	}
	if resp.AlreadyApplied == nil || !*resp.AlreadyApplied {
		t.Fatalf("duplicate transition must report already_applied, got %+v", resp.AlreadyApplied)
	}
}

func TestTransitionOutOfOrder(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)

	rec := f.do(t, http.MethodPost, "/transitions/delivery", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.AlreadyApplied == nil || *resp.AlreadyApplied {
		t.Fatalf("out-of-order transition must not report already_applied, got %+v", resp.AlreadyApplied)
	}
}

func TestTransitionUnknownName(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/transitions/grilling", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransitionOrderNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-missing",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConfirmEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)
	token := f.engine.IssueToken()

	if rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
		"taskToken": token,
	}); rec.Code != http.StatusOK {
		t.Fatalf("kitchen transition failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodPost, "/confirm", map[string]any{
		"paso":      "cocina-lista",
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
		"worker":    "maria",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.engine.ResumeCalls != 1 {
		t.Fatalf("expected 1 resume call, got %d", f.engine.ResumeCalls)
	}

	order, _ := f.orders.Get("tenant-1", "order-1")
	if order.TokenKitchen != "" {
		t.Fatalf("token must be cleared after confirmation, got %q", order.TokenKitchen)
	}

	// Повторное подтверждение: токена больше нет.
	again := f.do(t, http.MethodPost, "/confirm", map[string]any{
		"paso":      "cocina-lista",
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if again.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", again.Code)
	}

	var resp errorResponse
	decodeBody(t, again, &resp)
	if resp.Error != codeNotReady {
		t.Fatalf("expected not_ready, got %s", resp.Error)
	}
}

func TestConfirmUnknownStep(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusKitchen)

	rec := f.do(t, http.MethodPost, "/confirm", map[string]any{
		"paso":      "horneado-listo",
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != codeInvalidInput {
		t.Fatalf("expected invalid_input, got %s", resp.Error)
	}
}

func TestConfirmOrderNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/confirm", map[string]any{
		"paso":      "cocina-lista",
		"tenant_id": "tenant-1",
		"order_id":  "order-missing",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListOrdersExcludesPendingPayment(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusKitchen)

	now := time.Now().UTC()
	pending := domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-2",
		CustomerEmail: "otro@example.com",
		Status:        domain.OrderStatusPendingPayment,
		Currency:      "PEN",
		AmountMinor:   800,
		Items: []domain.OrderItem{
			{ID: "item-2", Name: "chicha morada", Qty: 1, PriceMinor: 800, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orders.Create(pending); err != nil {
		t.Fatalf("seed pending order: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/orders?tenant_id=tenant-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Orders []orderView `json:"orders"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Orders))
	}
	if resp.Orders[0].OrderID != "order-1" {
		t.Fatalf("expected order-1, got %s", resp.Orders[0].OrderID)
	}
}

func TestListOrdersRequiresTenant(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/orders", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOrdersByEmail(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)

	rec := f.do(t, http.MethodGet, "/orders/by-email?tenant_id=tenant-1&email=cliente@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Orders []orderView `json:"orders"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Orders))
	}

	empty := f.do(t, http.MethodGet, "/orders/by-email?tenant_id=tenant-1&email=nadie@example.com", nil)
	var none struct {
		Orders []orderView `json:"orders"`
	}
	decodeBody(t, empty, &none)
	if len(none.Orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(none.Orders))
	}
}

func TestGetOrderWithStages(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)

	if rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
		"worker":    "maria",
	}); rec.Code != http.StatusOK {
		t.Fatalf("kitchen transition failed: %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/orders/tenant-1/order-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Order  orderView   `json:"order"`
		Stages []stageView `json:"stages"`
	}
	decodeBody(t, rec, &resp)
	if resp.Order.Status != string(domain.OrderStatusKitchen) {
		t.Fatalf("expected kitchen, got %s", resp.Order.Status)
	}
	if len(resp.Stages) != 1 {
		t.Fatalf("expected 1 stage entry, got %d", len(resp.Stages))
	}
	if resp.Stages[0].Stage != string(domain.StageKitchen) || resp.Stages[0].Worker != "maria" {
		t.Fatalf("unexpected stage entry %+v", resp.Stages[0])
	}
}

func TestGetOrderNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/orders/tenant-1/order-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConnectionsLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, domain.OrderStatusPaid)

	rec := f.do(t, http.MethodPost, "/connections", map[string]any{
		"connection_id": "conn-chef",
		"role":          "chef",
		"tenant_id":     "tenant-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Переход paid -> kitchen рассылает заказ зарегистрированному повару.
	if rec := f.do(t, http.MethodPost, "/transitions/kitchen", map[string]any{
		"tenant_id": "tenant-1",
		"order_id":  "order-1",
	}); rec.Code != http.StatusOK {
		t.Fatalf("kitchen transition failed: %d", rec.Code)
	}
	if got := f.channel.deliveries("conn-chef"); got != 1 {
		t.Fatalf("expected 1 broadcast delivery, got %d", got)
	}

	del := f.do(t, http.MethodDelete, "/connections/conn-chef", nil)
	if del.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", del.Code)
	}
}

func TestConnectionsValidation(t *testing.T) {
	f := newAPIFixture(t)

	missing := f.do(t, http.MethodPost, "/connections", map[string]any{"role": "chef"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing connection_id, got %d", missing.Code)
	}

	badRole := f.do(t, http.MethodPost, "/connections", map[string]any{
		"connection_id": "conn-1",
		"role":          "waiter",
	})
	if badRole.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", badRole.Code)
	}
}
