package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

func TestStarterStart(t *testing.T) {
	engine := NewMockEngine()
	starter := NewStarter(engine, nil)

	executionID, err := starter.Start(context.Background(), "tenant-1", "order-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if executionID == "" {
		t.Fatal("expected execution id")
	}
	if engine.StartCalls != 1 {
		t.Fatalf("expected 1 engine call, got %d", engine.StartCalls)
	}
}

func TestStarterDuplicateStart(t *testing.T) {
	engine := NewMockEngine()
	starter := NewStarter(engine, nil)

	if _, err := starter.Start(context.Background(), "tenant-1", "order-1"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	_, err := starter.Start(context.Background(), "tenant-1", "order-1")
	if !errors.Is(err, domain.ErrExecutionExists) {
		t.Fatalf("expected ErrExecutionExists, got %v", err)
	}
}

func TestStarterDistinctOrders(t *testing.T) {
	engine := NewMockEngine()
	starter := NewStarter(engine, nil)
	ctx := context.Background()

	if _, err := starter.Start(ctx, "tenant-1", "order-1"); err != nil {
		t.Fatalf("start order-1: %v", err)
	}
	if _, err := starter.Start(ctx, "tenant-1", "order-2"); err != nil {
		t.Fatalf("start order-2: %v", err)
	}
	if _, err := starter.Start(ctx, "tenant-2", "order-1"); err != nil {
		t.Fatalf("same order id under another tenant must start: %v", err)
	}
}

func TestStarterValidation(t *testing.T) {
	starter := NewStarter(NewMockEngine(), nil)
	ctx := context.Background()

	if _, err := starter.Start(ctx, "", "order-1"); !errors.Is(err, domain.ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
	if _, err := starter.Start(ctx, "tenant-1", ""); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
}

func TestStarterEngineUnavailable(t *testing.T) {
	engine := NewMockEngine()
	engine.StartErr = domain.ErrWorkflowUnavailable
	starter := NewStarter(engine, nil)

	_, err := starter.Start(context.Background(), "tenant-1", "order-1")
	if !errors.Is(err, domain.ErrWorkflowUnavailable) {
		t.Fatalf("expected ErrWorkflowUnavailable, got %v", err)
	}
}

func TestMockEngineTokenIsSingleUse(t *testing.T) {
	engine := NewMockEngine()
	ctx := context.Background()

	token := engine.IssueToken()
	if err := engine.Resume(ctx, token, []byte(`{"paso":"cocina-lista"}`)); err != nil {
		t.Fatalf("first resume failed: %v", err)
	}
	if string(engine.LastOutput) != `{"paso":"cocina-lista"}` {
		t.Fatalf("unexpected output %s", engine.LastOutput)
	}

	err := engine.Resume(ctx, token, nil)
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("second resume must reject the token, got %v", err)
	}
}

func TestMockEngineUnknownToken(t *testing.T) {
	engine := NewMockEngine()

	err := engine.Resume(context.Background(), "token-unknown", nil)
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
