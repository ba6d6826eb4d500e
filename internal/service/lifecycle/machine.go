package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ofs/internal/metrics"
)

// Broadcaster доставляет полезную нагрузку заказа подписчикам кухни.
type Broadcaster interface {
	PublishOrder(ctx context.Context, order domain.Order)
}

// InvalidStateError возвращается при отклонённом переходе и несёт живой
// снимок статуса, чтобы вызывающая сторона могла отличить дубликат от
// перехода не по порядку.
type InvalidStateError struct {
	Current  domain.OrderStatus
	Expected domain.OrderStatus
	Target   domain.OrderStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid order state: status is %q, transition to %q requires %q", e.Current, e.Target, e.Expected)
}

// Is позволяет проверять ошибку через errors.Is(err, domain.ErrInvalidState).
func (e *InvalidStateError) Is(target error) bool {
	return target == domain.ErrInvalidState
}

// AlreadyApplied сообщает, что заказ уже прошёл целевой статус: повторная
// доставка того же перехода, которую upstream может считать успехом.
func (e *InvalidStateError) AlreadyApplied() bool {
	return statusRank(e.Current) >= statusRank(e.Target)
}

func statusRank(status domain.OrderStatus) int {
	switch status {
	case domain.OrderStatusPendingPayment:
		return 0
	case domain.OrderStatusPaid:
		return 1
	case domain.OrderStatusKitchen:
		return 2
	case domain.OrderStatusPackaging:
		return 3
	case domain.OrderStatusDelivery:
		return 4
	case domain.OrderStatusDelivered:
		return 5
	default:
		return -1
	}
}

// Machine применяет однонаправленные переходы конечного автомата заказа.
// Каждый переход: запись в stage ledger до CAS заказа, затем условный
// UPDATE по точному предшественнику.
type Machine struct {
	orders      domain.OrderRepository
	ledger      domain.StageLedger
	outbox      domain.OutboxRepository
	broadcaster Broadcaster
	producer    *kafka.Producer
	logger      *log.Entry
	metrics     *metrics.LifecycleMetrics
}

// Option настраивает Machine.
type Option func(*Machine)

// WithBroadcaster задаёт fan-out для новых заказов кухни.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Machine) {
		m.broadcaster = b
	}
}

// WithKafkaProducer задаёт опциональный producer для прямой публикации событий.
func WithKafkaProducer(producer *kafka.Producer) Option {
	return func(m *Machine) {
		m.producer = producer
	}
}

// WithoutMetrics отключает метрики (для тестов).
func WithoutMetrics() Option {
	return func(m *Machine) {
		m.metrics = nil
	}
}

// NewMachine создаёт рабочий экземпляр конечного автомата.
func NewMachine(
	orders domain.OrderRepository,
	ledger domain.StageLedger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
	options ...Option,
) *Machine {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	m := &Machine{
		orders:  orders,
		ledger:  ledger,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewLifecycleMetrics(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// MarkPaid переводит заказ pending_payment → paid после подтверждения оплаты.
func (m *Machine) MarkPaid(ctx context.Context, tenantID, orderID, paymentID string) (domain.Order, error) {
	tr := domain.Transition{
		Expected: domain.OrderStatusPendingPayment,
		Next:     domain.OrderStatusPaid,
		PaidAt:   time.Now().UTC(),
	}
	meta := map[string]any{}
	if paymentID != "" {
		meta["payment_id"] = paymentID
	}
	return m.apply(ctx, tenantID, orderID, tr, "", "", meta)
}

// StartKitchen переводит заказ paid → kitchen, открывает запись кухни и
// сохраняет continuation token стадии. Оплаченный заказ рассылается
// подписчикам кухни best effort.
func (m *Machine) StartKitchen(ctx context.Context, tenantID, orderID, token, worker string) (domain.Order, error) {
	tr := domain.Transition{
		Expected: domain.OrderStatusPaid,
		Next:     domain.OrderStatusKitchen,
		Token:    token,
	}
	order, err := m.apply(ctx, tenantID, orderID, tr, "", worker, nil)
	if err != nil {
		return order, err
	}

	if m.broadcaster != nil {
		m.broadcaster.PublishOrder(ctx, order)
	}
	return order, nil
}

// StartPackaging переводит заказ kitchen → packaging.
func (m *Machine) StartPackaging(ctx context.Context, tenantID, orderID, token, worker string) (domain.Order, error) {
	tr := domain.Transition{
		Expected: domain.OrderStatusKitchen,
		Next:     domain.OrderStatusPackaging,
		Token:    token,
	}
	return m.apply(ctx, tenantID, orderID, tr, "", worker, nil)
}

// StartDelivery переводит заказ packaging → delivery.
func (m *Machine) StartDelivery(ctx context.Context, tenantID, orderID, token, worker string) (domain.Order, error) {
	tr := domain.Transition{
		Expected: domain.OrderStatusPackaging,
		Next:     domain.OrderStatusDelivery,
		Token:    token,
	}
	return m.apply(ctx, tenantID, orderID, tr, "", worker, nil)
}

// CompleteDelivery переводит заказ delivery → delivered и закрывает последнюю
// запись ledger. Терминальный переход token не сохраняет.
func (m *Machine) CompleteDelivery(ctx context.Context, tenantID, orderID, worker string) (domain.Order, error) {
	tr := domain.Transition{
		Expected: domain.OrderStatusDelivery,
		Next:     domain.OrderStatusDelivered,
	}
	meta := map[string]any{}
	if worker != "" {
		meta["worker"] = worker
	}
	return m.apply(ctx, tenantID, orderID, tr, worker, "", meta)
}

// apply выполняет эффекты перехода в фиксированном порядке: закрытие записи
// предыдущей стадии, открытие записи новой стадии, CAS статуса заказа.
func (m *Machine) apply(
	ctx context.Context,
	tenantID, orderID string,
	tr domain.Transition,
	closeWorker, openWorker string,
	meta map[string]any,
) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordTransitionDuration(time.Since(start))
		}
	}()

	order, err := m.orders.Get(tenantID, orderID)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			m.logger.WithError(err).WithFields(log.Fields{
				"tenant_id": tenantID,
				"order_id":  orderID,
			}).Error("failed to load order for transition")
		}
		return domain.Order{}, err
	}

	if order.Status != tr.Expected {
		return m.reject(order, tr)
	}

	if prevStage, ok := domain.StageForStatus(tr.Expected); ok {
		if err := m.ledger.CloseEntry(tenantID, orderID, prevStage, closeWorker); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"tenant_id": tenantID,
				"order_id":  orderID,
				"stage":     prevStage,
			}).Warn("failed to close stage entry")
		} else if m.metrics != nil {
			m.metrics.RecordStageClosed()
			m.recordStageDuration(tenantID, orderID, prevStage)
		}
	}

	if nextStage, ok := domain.StageForStatus(tr.Next); ok {
		entry := domain.StageEntry{
			TenantID: tenantID,
			OrderID:  orderID,
			Stage:    nextStage,
			Worker:   openWorker,
		}
		if err := m.ledger.OpenEntry(entry); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"tenant_id": tenantID,
				"order_id":  orderID,
				"stage":     nextStage,
			}).Error("failed to open stage entry")
			return domain.Order{}, fmt.Errorf("open stage entry: %w", err)
		}
		if m.metrics != nil {
			m.metrics.RecordStageOpened()
		}
	}

	updated, err := m.orders.ApplyTransition(tenantID, orderID, tr)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Проиграли гонку конкурентному дубликату.
			return m.reject(updated, tr)
		}
		m.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
			"status":    tr.Next,
		}).Error("failed to persist transition")
		return domain.Order{}, err
	}

	if m.metrics != nil {
		m.metrics.RecordTransitionApplied(string(tr.Next))
	}
	m.logger.WithFields(log.Fields{
		"tenant_id": tenantID,
		"order_id":  orderID,
		"from":      tr.Expected,
		"to":        tr.Next,
	}).Info("order transition applied")

	m.emitEvent(updated, tr, meta)
	return updated, nil
}

func (m *Machine) reject(snapshot domain.Order, tr domain.Transition) (domain.Order, error) {
	if m.metrics != nil {
		m.metrics.RecordTransitionRejected(string(tr.Next))
	}
	rejection := &InvalidStateError{
		Current:  snapshot.Status,
		Expected: tr.Expected,
		Target:   tr.Next,
	}
	m.logger.WithFields(log.Fields{
		"tenant_id":       snapshot.TenantID,
		"order_id":        snapshot.ID,
		"current_status":  snapshot.Status,
		"expected_status": tr.Expected,
		"already_applied": rejection.AlreadyApplied(),
	}).Warn("order transition rejected")
	return snapshot, rejection
}

func (m *Machine) recordStageDuration(tenantID, orderID string, stage domain.Stage) {
	entry, err := m.ledger.GetEntry(tenantID, orderID, stage)
	if err != nil || entry.StartedAt.IsZero() || entry.EndedAt.IsZero() {
		return
	}
	m.metrics.RecordStageDuration(string(stage), entry.EndedAt.Sub(entry.StartedAt))
}

// emitEvent кладёт событие перехода в transactional outbox и, если настроен
// producer, публикует его напрямую в Kafka. Обе ветки best effort.
func (m *Machine) emitEvent(order domain.Order, tr domain.Transition, meta map[string]any) {
	eventType := kafka.EventTypeForStatus(tr.Next)

	payload := map[string]any{
		"tenant_id":       order.TenantID,
		"order_id":        order.ID,
		"status":          string(order.Status),
		"previous_status": string(tr.Expected),
		"ts":              time.Now().UTC().Format(time.RFC3339Nano),
	}
	for key, value := range meta {
		payload[key] = value
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal transition event failed")
		return
	}

	if m.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   domain.ExternalReference{TenantID: order.TenantID, OrderID: order.ID}.String(),
			EventType:     string(eventType),
			Payload:       data,
		}
		if _, err := m.outbox.Enqueue(msg); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue transition event failed")
		} else if m.metrics != nil {
			m.metrics.RecordOutboxEvent()
		}
	}

	if m.producer != nil {
		event := kafka.NewOrderEvent(eventType, order, meta)
		if err := m.producer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"event_type": eventType,
				"order_id":   order.ID,
			}).Warn("failed to publish order event to kafka")
		}
	}
}
