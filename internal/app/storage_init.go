package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/storage/memory"
	"github.com/vladislavdragonenkov/ofs/internal/storage/postgres"
)

// storageSet объединяет репозитории одного хранилища.
type storageSet struct {
	orders      domain.OrderRepository
	ledger      domain.StageLedger
	outbox      domain.OutboxRepository
	registry    domain.SubscriberRegistry
	idempotency domain.IdempotencyRepository

	// store заполняется только для postgres; nil для in-memory.
	store *postgres.Store
}

// initStorage создаёт репозитории согласно выбранному драйверу.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageSet, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &storageSet{
			orders:      memory.NewOrderRepository(),
			ledger:      memory.NewStageLedger(),
			outbox:      memory.NewOutboxRepository(),
			registry:    memory.NewSubscriberRegistry(),
			idempotency: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &storageSet{
			orders:      postgres.NewOrderRepository(store),
			ledger:      postgres.NewStageLedger(store),
			outbox:      postgres.NewOutboxRepository(store),
			registry:    postgres.NewSubscriberRegistry(store),
			idempotency: postgres.NewIdempotencyRepository(store),
			store:       store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// close закрывает подключение к хранилищу, если оно есть.
func (s *storageSet) close(logger *log.Entry) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres storage")
	}
}
