package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// stageLedgerInMemory хранит журнал стадий в памяти (для разработки/тестов).
type stageLedgerInMemory struct {
	mu      sync.RWMutex
	entries map[string]domain.StageEntry
}

// NewStageLedger создаёт in-memory реализацию StageLedger.
func NewStageLedger() domain.StageLedger {
	return &stageLedgerInMemory{entries: make(map[string]domain.StageEntry)}
}

func entryKey(tenantID, orderID string, stage domain.Stage) string {
	return tenantID + "/" + orderID + "/" + string(stage)
}

// OpenEntry создаёт или перезаписывает открытую запись стадии. Закрытую
// запись повторное открытие не трогает: запоздавший дубликат перехода не
// должен откатывать журнал позади статуса заказа.
func (l *stageLedgerInMemory) OpenEntry(entry domain.StageEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[entryKey(entry.TenantID, entry.OrderID, entry.Stage)]; ok && existing.Status == domain.StageDone {
		return nil
	}

	if entry.Worker == "" {
		entry.Worker = domain.WorkerUnassigned
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	entry.Status = domain.StageInProgress
	entry.EndedAt = time.Time{}

	l.entries[entryKey(entry.TenantID, entry.OrderID, entry.Stage)] = entry
	return nil
}

// CloseEntry закрывает запись стадии. Отсутствующая или уже закрытая
// запись — не ошибка: закрытие идемпотентно.
func (l *stageLedgerInMemory) CloseEntry(tenantID, orderID string, stage domain.Stage, worker string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := entryKey(tenantID, orderID, stage)
	entry, ok := l.entries[key]
	if !ok || entry.Status == domain.StageDone {
		return nil
	}

	entry.Status = domain.StageDone
	entry.EndedAt = time.Now().UTC()
	if worker != "" {
		entry.Worker = worker
	}

	l.entries[key] = entry
	return nil
}

// GetEntry возвращает запись стадии или ErrStageEntryNotFound.
func (l *stageLedgerInMemory) GetEntry(tenantID, orderID string, stage domain.Stage) (domain.StageEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[entryKey(tenantID, orderID, stage)]
	if !ok {
		return domain.StageEntry{}, domain.ErrStageEntryNotFound
	}
	return entry, nil
}

// ListEntries возвращает записи стадий заказа в порядке открытия.
func (l *stageLedgerInMemory) ListEntries(tenantID, orderID string) ([]domain.StageEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.StageEntry, 0, 3)
	for _, entry := range l.entries {
		if entry.TenantID == tenantID && entry.OrderID == orderID {
			result = append(result, entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})

	return result, nil
}

var _ domain.StageLedger = (*stageLedgerInMemory)(nil)
