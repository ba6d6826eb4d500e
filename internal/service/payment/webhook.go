package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
)

// PaidTransitioner применяет переход pending_payment → paid.
type PaidTransitioner interface {
	MarkPaid(ctx context.Context, tenantID, orderID, paymentID string) (domain.Order, error)
}

// WebhookService обрабатывает уведомления платёжного провайдера. Провайдер
// повторяет доставку до подтверждения, поэтому всё непригодное к обработке
// (неизвестный платёж, неразборчивая ссылка, неодобренный статус, дубликат)
// квитируется мягко — без ошибки.
type WebhookService struct {
	provider domain.PaymentProvider
	machine  PaidTransitioner
	outbox   domain.OutboxRepository
	logger   *log.Entry
}

// NewWebhookService создаёт обработчик платёжных уведомлений.
func NewWebhookService(
	provider domain.PaymentProvider,
	machine PaidTransitioner,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *WebhookService {
	if logger == nil {
		logger = log.New().WithField("component", "payment-webhook")
	}
	return &WebhookService{
		provider: provider,
		machine:  machine,
		outbox:   outbox,
		logger:   logger,
	}
}

// HandleNotification проверяет платёж у провайдера и при одобренном статусе
// переводит заказ в paid. Ошибка возвращается только при инфраструктурном
// сбое, когда повторная доставка уведомления имеет смысл.
func (s *WebhookService) HandleNotification(ctx context.Context, notification domain.PaymentNotification) error {
	if notification.Type != "" && notification.Type != "payment" {
		s.logger.WithField("type", notification.Type).Debug("ignoring non-payment notification")
		return nil
	}
	if notification.PaymentID == "" {
		s.logger.Warn("payment notification without payment id")
		return nil
	}

	info, err := s.provider.GetPayment(ctx, notification.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			s.logger.WithField("payment_id", notification.PaymentID).Warn("payment not found at provider")
			return nil
		}
		s.logger.WithError(err).WithField("payment_id", notification.PaymentID).Error("failed to look up payment")
		return fmt.Errorf("get payment %s: %w", notification.PaymentID, err)
	}

	if info.Status != domain.PaymentStateApproved {
		s.logger.WithFields(log.Fields{
			"payment_id": info.ID,
			"status":     info.Status,
		}).Info("ignoring non-approved payment")
		return nil
	}

	ref, err := domain.ParseExternalReference(info.ExternalReference)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"payment_id":         info.ID,
			"external_reference": info.ExternalReference,
		}).Warn("payment has malformed external reference")
		return nil
	}

	order, err := s.machine.MarkPaid(ctx, ref.TenantID, ref.OrderID, info.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			// Дубликат уведомления: переход уже применён.
			s.logger.WithFields(log.Fields{
				"tenant_id":  ref.TenantID,
				"order_id":   ref.OrderID,
				"payment_id": info.ID,
			}).Info("duplicate payment notification suppressed")
			return nil
		case errors.Is(err, domain.ErrOrderNotFound):
			s.logger.WithFields(log.Fields{
				"tenant_id": ref.TenantID,
				"order_id":  ref.OrderID,
			}).Warn("payment refers to unknown order")
			return nil
		default:
			return fmt.Errorf("mark order paid: %w", err)
		}
	}

	s.enqueueConfirmation(order, info.ID)
	return nil
}

// enqueueConfirmation кладёт событие payment.confirmed в outbox для
// side-effect consumer'ов (email, чек).
func (s *WebhookService) enqueueConfirmation(order domain.Order, paymentID string) {
	if s.outbox == nil {
		return
	}

	confirmed := domain.PaymentConfirmed{
		TenantID:      order.TenantID,
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		PaymentID:     paymentID,
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
	}
	payload, err := json.Marshal(kafka.NewPaymentEvent(confirmed))
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal payment confirmation failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   domain.ExternalReference{TenantID: order.TenantID, OrderID: order.ID}.String(),
		EventType:     string(kafka.EventTypePaymentConfirmed),
		Payload:       payload,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"payment_id": paymentID,
		}).Error("enqueue payment confirmation failed")
	}
}
