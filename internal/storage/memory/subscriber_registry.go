package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// subscriberRegistryInMemory хранит push-подключения в памяти.
type subscriberRegistryInMemory struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscriber
}

// NewSubscriberRegistry создаёт in-memory реализацию SubscriberRegistry.
func NewSubscriberRegistry() domain.SubscriberRegistry {
	return &subscriberRegistryInMemory{subs: make(map[string]domain.Subscriber)}
}

// Register сохраняет подключение; повторная регистрация перезаписывает запись.
func (r *subscriberRegistryInMemory) Register(sub domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.RegisteredAt.IsZero() {
		sub.RegisteredAt = time.Now().UTC()
	}
	r.subs[sub.ConnectionID] = sub
	return nil
}

// Deregister удаляет подключение; несуществующее — не ошибка.
func (r *subscriberRegistryInMemory) Deregister(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, connectionID)
	return nil
}

// ListByRole возвращает подключения с данной ролью.
func (r *subscriberRegistryInMemory) ListByRole(role domain.SubscriberRole) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Role == role {
			result = append(result, sub)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectionID < result[j].ConnectionID
	})

	return result, nil
}

var _ domain.SubscriberRegistry = (*subscriberRegistryInMemory)(nil)
