package memory_test

import (
	"testing"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
)

func TestSubscriberRegistry_RegisterAndList(t *testing.T) {
	reg := memory.NewSubscriberRegistry()

	if err := reg.Register(domain.Subscriber{ConnectionID: "conn-1", Role: domain.RoleChef}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(domain.Subscriber{ConnectionID: "conn-2", Role: domain.RoleCustomer}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	chefs, err := reg.ListByRole(domain.RoleChef)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(chefs) != 1 || chefs[0].ConnectionID != "conn-1" {
		t.Fatalf("expected only conn-1 in chef role, got %+v", chefs)
	}
	if chefs[0].RegisteredAt.IsZero() {
		t.Fatal("expected registered_at to be set")
	}
}

func TestSubscriberRegistry_ReregisterOverwritesRole(t *testing.T) {
	reg := memory.NewSubscriberRegistry()

	if err := reg.Register(domain.Subscriber{ConnectionID: "conn-1", Role: domain.RoleCustomer}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(domain.Subscriber{ConnectionID: "conn-1", Role: domain.RoleChef}); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	chefs, err := reg.ListByRole(domain.RoleChef)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(chefs) != 1 {
		t.Fatalf("expected 1 chef, got %d", len(chefs))
	}

	customers, err := reg.ListByRole(domain.RoleCustomer)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(customers) != 0 {
		t.Fatalf("expected no customers after role change, got %d", len(customers))
	}
}

func TestSubscriberRegistry_Deregister(t *testing.T) {
	reg := memory.NewSubscriberRegistry()

	if err := reg.Register(domain.Subscriber{ConnectionID: "conn-1", Role: domain.RoleChef}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Deregister("conn-1"); err != nil {
		t.Fatalf("deregister failed: %v", err)
	}
	// Повторное удаление — не ошибка.
	if err := reg.Deregister("conn-1"); err != nil {
		t.Fatalf("repeat deregister failed: %v", err)
	}

	chefs, err := reg.ListByRole(domain.RoleChef)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(chefs) != 0 {
		t.Fatalf("expected no chefs, got %d", len(chefs))
	}
}
