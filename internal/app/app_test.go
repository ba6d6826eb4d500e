package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg)
	}()

	// Даём серверу подняться, затем останавливаем.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRun_UnsupportedStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "dynamodb"

	err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
	if !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_PostgresWithoutDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres

	err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for postgres driver without DSN")
	}
}
