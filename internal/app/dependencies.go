package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/service/payment"
	"github.com/vladislavdragonenkov/ofs/internal/service/workflow"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Ledger      domain.StageLedger
	Outbox      domain.OutboxRepository
	Registry    domain.SubscriberRegistry
	Idempotency domain.IdempotencyRepository

	Provider domain.PaymentProvider
	Engine   domain.WorkflowEngine
	Mailer   domain.Mailer
	Receipts domain.ReceiptStore
	Channel  domain.PushChannel

	Logger *log.Entry

	storage *storageSet
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// NOTE: платёжный провайдер и workflow-движок здесь mock'и; в production
// их заменяют реальные клиенты внешних сервисов.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Orders:      storage.orders,
		Ledger:      storage.ledger,
		Outbox:      storage.outbox,
		Registry:    storage.registry,
		Idempotency: storage.idempotency,
		Provider:    payment.NewMockProvider(),
		Engine:      workflow.NewMockEngine(),
		Mailer:      &logMailer{logger: logger.WithField("component", "dev-mailer")},
		Receipts:    &logReceiptStore{logger: logger.WithField("component", "dev-receipt-store")},
		Channel:     &logPushChannel{logger: logger.WithField("component", "dev-push-channel")},
		Logger:      logger,
		storage:     storage,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	d.storage.close(d.Logger)
}
