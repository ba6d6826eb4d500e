package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
)

// EmailNotifier отправляет клиенту письмо-подтверждение после оплаты.
// Потребитель идемпотентен по (tenant, order): повторная доставка события
// не дублирует письмо.
type EmailNotifier struct {
	orders domain.OrderRepository
	mailer domain.Mailer
	idem   domain.IdempotencyRepository
	logger *log.Entry
}

// NewEmailNotifier создаёт consumer писем-подтверждений.
func NewEmailNotifier(
	orders domain.OrderRepository,
	mailer domain.Mailer,
	idem domain.IdempotencyRepository,
	logger *log.Entry,
) *EmailNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "email-notifier")
	}
	return &EmailNotifier{
		orders: orders,
		mailer: mailer,
		idem:   idem,
		logger: logger,
	}
}

// HandleMessage реализует kafka.MessageHandler для topic платёжных событий.
func (n *EmailNotifier) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := decodePaymentEvent(message.Value)
	if err != nil {
		return err
	}
	if event.EventType != kafka.EventTypePaymentConfirmed {
		return nil
	}

	payment := event.Payment
	if payment.TenantID == "" || payment.OrderID == "" || payment.CustomerEmail == "" {
		n.logger.WithFields(log.Fields{
			"tenant_id": payment.TenantID,
			"order_id":  payment.OrderID,
		}).Warn("payment confirmation with incomplete data")
		return nil
	}

	key := "email-confirmation:" + payment.TenantID + ":" + payment.OrderID
	skip, err := beginOnce(n.idem, n.logger, key)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	order, err := n.orders.Get(payment.TenantID, payment.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			n.logger.WithFields(log.Fields{
				"tenant_id": payment.TenantID,
				"order_id":  payment.OrderID,
			}).Warn("order not found for email confirmation")
			markFailed(n.idem, n.logger, key)
			return nil
		}
		markFailed(n.idem, n.logger, key)
		return fmt.Errorf("load order: %w", err)
	}

	name := payment.CustomerName
	if name == "" {
		name = "Cliente"
	}

	subject := fmt.Sprintf("¡Tu pedido #%s ha sido confirmado!", order.ID)
	body := buildConfirmationBody(name, order)

	if err := n.mailer.Send(ctx, payment.CustomerEmail, subject, body); err != nil {
		n.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"to":       payment.CustomerEmail,
		}).Error("failed to send confirmation email")
		markFailed(n.idem, n.logger, key)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	markDone(n.idem, n.logger, key, nil)
	n.logger.WithFields(log.Fields{
		"tenant_id": order.TenantID,
		"order_id":  order.ID,
		"to":        payment.CustomerEmail,
	}).Info("confirmation email sent")
	return nil
}

func buildConfirmationBody(name string, order domain.Order) string {
	return fmt.Sprintf(`Hola %s,

¡Tu pago ha sido procesado exitosamente!

Número de pedido: #%s
Total pagado: %s

Tu pedido está siendo preparado por nuestro equipo.
Te notificaremos cuando esté listo para recoger.

¡Gracias por tu preferencia!
`, name, order.ID, formatAmount(order.Currency, order.AmountMinor))
}
