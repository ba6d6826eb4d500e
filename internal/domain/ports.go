package domain

import (
	"context"
	"time"
)

// WorkflowEngine описывает внешний механизм приостановки/возобновления
// процесса исполнения заказа.
type WorkflowEngine interface {
	// StartExecution запускает именованное исполнение workflow.
	// Возвращает ErrExecutionExists, если исполнение с таким именем уже
	// запущено, и ErrWorkflowUnavailable при временной недоступности.
	StartExecution(ctx context.Context, name string, input []byte) (executionID string, err error)
	// Resume гасит continuation-токен и будит приостановленный процесс.
	// Возвращает ErrInvalidToken, если токен недействителен или уже
	// погашен, и ErrWorkflowUnavailable при временной недоступности.
	Resume(ctx context.Context, token string, output []byte) error
}

// SubscriberRegistry хранит зарегистрированные push-подключения.
type SubscriberRegistry interface {
	// Register сохраняет подключение; повторная регистрация того же
	// ConnectionID перезаписывает запись.
	Register(sub Subscriber) error
	// Deregister удаляет подключение. Удаление несуществующего
	// подключения не является ошибкой.
	Deregister(connectionID string) error
	// ListByRole возвращает все подключения с данной ролью.
	ListByRole(role SubscriberRole) ([]Subscriber, error)
}

// PushChannel доставляет сообщение одному подключению.
type PushChannel interface {
	// Push отправляет полезную нагрузку подключению. Возвращает
	// ErrConnectionGone, если канал безвозвратно закрыт.
	Push(ctx context.Context, connectionID string, payload []byte) error
}

// CheckoutPreference — результат создания checkout-сессии у провайдера.
type CheckoutPreference struct {
	ID string
	// InitPoint — URL, на который направляется клиент для оплаты.
	InitPoint string
}

// PaymentState — статус платежа в терминах провайдера.
type PaymentState string

const (
	PaymentStateApproved PaymentState = "approved"
	PaymentStatePending  PaymentState = "pending"
	PaymentStateRejected PaymentState = "rejected"
)

// PaymentInfo — сведения о платеже, полученные от провайдера по
// идентификатору из webhook-уведомления.
type PaymentInfo struct {
	ID     string
	Status PaymentState
	// ExternalReference — наша сквозная ссылка "{tenant_id}:{order_id}",
	// переданная при создании преференции.
	ExternalReference string
}

// PaymentProvider описывает взаимодействие с платёжным провайдером.
type PaymentProvider interface {
	// CreatePreference создаёт checkout-сессию для заказа.
	CreatePreference(ctx context.Context, order Order) (CheckoutPreference, error)
	// GetPayment возвращает сведения о платеже по его идентификатору.
	GetPayment(ctx context.Context, paymentID string) (PaymentInfo, error)
}

// Mailer отправляет письма клиентам.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ReceiptStore сохраняет сгенерированные чеки.
type ReceiptStore interface {
	// Put сохраняет чек под ключом и возвращает его адрес.
	Put(ctx context.Context, key string, body []byte) (location string, err error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
