package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
)

type stubEngine struct {
	resumeErr   error
	resumeCalls int
	lastToken   string
	lastOutput  []byte
}

func (e *stubEngine) StartExecution(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}

func (e *stubEngine) Resume(_ context.Context, token string, output []byte) error {
	e.resumeCalls++
	e.lastToken = token
	e.lastOutput = output
	return e.resumeErr
}

func seedKitchenOrder(t *testing.T, orders domain.OrderRepository, ledger domain.StageLedger, token string) {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		TenantID:      "tenant-1",
		ID:            "order-1",
		CustomerEmail: "cliente@example.com",
		Status:        domain.OrderStatusKitchen,
		Currency:      "PEN",
		AmountMinor:   1890,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "aji de gallina", Qty: 1, PriceMinor: 1890, CreatedAt: now},
		},
		TokenKitchen: token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := ledger.OpenEntry(domain.StageEntry{
		TenantID: "tenant-1",
		OrderID:  "order-1",
		Stage:    domain.StageKitchen,
	}); err != nil {
		t.Fatalf("open kitchen entry: %v", err)
	}
}

func TestConfirmStep(t *testing.T) {
	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	engine := &stubEngine{}
	seedKitchenOrder(t, orders, ledger, "token-kitchen")

	c := NewCoordinator(orders, ledger, engine, nil)
	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "order-1",
		Worker:   "maria",
	})
	if err != nil {
		t.Fatalf("ConfirmStep failed: %v", err)
	}

	if engine.resumeCalls != 1 {
		t.Fatalf("expected 1 resume call, got %d", engine.resumeCalls)
	}
	if engine.lastToken != "token-kitchen" {
		t.Fatalf("expected stored token, got %q", engine.lastToken)
	}

	var output map[string]any
	if err := json.Unmarshal(engine.lastOutput, &output); err != nil {
		t.Fatalf("decode resume output: %v", err)
	}
	if output["paso"] != string(domain.StepKitchenReady) {
		t.Fatalf("expected paso %q, got %v", domain.StepKitchenReady, output["paso"])
	}
	if output["worker"] != "maria" {
		t.Fatalf("expected worker maria, got %v", output["worker"])
	}

	order, err := orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.TokenKitchen != "" {
		t.Fatalf("expected kitchen token cleared, got %q", order.TokenKitchen)
	}

	entry, err := ledger.GetEntry("tenant-1", "order-1", domain.StageKitchen)
	if err != nil {
		t.Fatalf("get kitchen entry: %v", err)
	}
	if entry.Status != domain.StageDone {
		t.Fatalf("expected entry closed, got %s", entry.Status)
	}
	if entry.Worker != "maria" {
		t.Fatalf("expected worker maria, got %q", entry.Worker)
	}
}

func TestConfirmStepUnknownStep(t *testing.T) {
	c := NewCoordinator(memory.NewOrderRepository(), memory.NewStageLedger(), &stubEngine{}, nil)

	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     "horneado-listo",
		TenantID: "tenant-1",
		OrderID:  "order-1",
	})
	if !errors.Is(err, domain.ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
}

func TestConfirmStepOrderNotFound(t *testing.T) {
	c := NewCoordinator(memory.NewOrderRepository(), memory.NewStageLedger(), &stubEngine{}, nil)

	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "missing",
	})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestConfirmStepNoToken(t *testing.T) {
	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	engine := &stubEngine{}
	seedKitchenOrder(t, orders, ledger, "")

	c := NewCoordinator(orders, ledger, engine, nil)
	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "order-1",
	})
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if engine.resumeCalls != 0 {
		t.Fatalf("engine must not be called without a token, got %d calls", engine.resumeCalls)
	}
}

func TestConfirmStepInvalidToken(t *testing.T) {
	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	engine := &stubEngine{resumeErr: domain.ErrInvalidToken}
	seedKitchenOrder(t, orders, ledger, "token-stale")

	c := NewCoordinator(orders, ledger, engine, nil)
	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "order-1",
	})
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady for a rejected token, got %v", err)
	}

	order, err := orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.TokenKitchen != "" {
		t.Fatalf("expected stale token cleared, got %q", order.TokenKitchen)
	}
}

func TestConfirmStepEngineUnavailable(t *testing.T) {
	orders := memory.NewOrderRepository()
	ledger := memory.NewStageLedger()
	engine := &stubEngine{resumeErr: domain.ErrWorkflowUnavailable}
	seedKitchenOrder(t, orders, ledger, "token-kitchen")

	c := NewCoordinator(orders, ledger, engine, nil)
	err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "order-1",
	})
	if !errors.Is(err, domain.ErrWorkflowUnavailable) {
		t.Fatalf("expected ErrWorkflowUnavailable, got %v", err)
	}

	// Токен должен пережить сбой движка, чтобы подтверждение можно было повторить.
	order, err := orders.Get("tenant-1", "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.TokenKitchen != "token-kitchen" {
		t.Fatalf("expected token retained, got %q", order.TokenKitchen)
	}

	engine.resumeErr = nil
	if err := c.ConfirmStep(context.Background(), Confirmation{
		Step:     domain.StepKitchenReady,
		TenantID: "tenant-1",
		OrderID:  "order-1",
	}); err != nil {
		t.Fatalf("retry after engine recovery failed: %v", err)
	}
	if engine.resumeCalls != 2 {
		t.Fatalf("expected 2 resume calls, got %d", engine.resumeCalls)
	}
}
