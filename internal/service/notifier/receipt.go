package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
)

// ReceiptGenerator формирует текстовый чек об оплате и сохраняет его во
// внешнем хранилище. Идемпотентен по (tenant, order).
type ReceiptGenerator struct {
	orders domain.OrderRepository
	store  domain.ReceiptStore
	idem   domain.IdempotencyRepository
	logger *log.Entry
}

// NewReceiptGenerator создаёт consumer генерации чеков.
func NewReceiptGenerator(
	orders domain.OrderRepository,
	store domain.ReceiptStore,
	idem domain.IdempotencyRepository,
	logger *log.Entry,
) *ReceiptGenerator {
	if logger == nil {
		logger = log.New().WithField("component", "receipt-generator")
	}
	return &ReceiptGenerator{
		orders: orders,
		store:  store,
		idem:   idem,
		logger: logger,
	}
}

// HandleMessage реализует kafka.MessageHandler для topic платёжных событий.
func (g *ReceiptGenerator) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := decodePaymentEvent(message.Value)
	if err != nil {
		return err
	}
	if event.EventType != kafka.EventTypePaymentConfirmed {
		return nil
	}

	payment := event.Payment
	if payment.TenantID == "" || payment.OrderID == "" || payment.CustomerEmail == "" {
		g.logger.WithFields(log.Fields{
			"tenant_id": payment.TenantID,
			"order_id":  payment.OrderID,
		}).Warn("payment confirmation with incomplete data")
		return nil
	}

	key := "receipt:" + payment.TenantID + ":" + payment.OrderID
	skip, err := beginOnce(g.idem, g.logger, key)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	order, err := g.orders.Get(payment.TenantID, payment.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			g.logger.WithFields(log.Fields{
				"tenant_id": payment.TenantID,
				"order_id":  payment.OrderID,
			}).Warn("order not found for receipt")
			markFailed(g.idem, g.logger, key)
			return nil
		}
		markFailed(g.idem, g.logger, key)
		return fmt.Errorf("load order: %w", err)
	}

	receipt := buildReceipt(order, payment)
	objectKey := fmt.Sprintf("recibos/%s.txt", payment.CustomerEmail)

	location, err := g.store.Put(ctx, objectKey, []byte(receipt))
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"key":      objectKey,
		}).Error("failed to store receipt")
		markFailed(g.idem, g.logger, key)
		return fmt.Errorf("store receipt: %w", err)
	}

	markDone(g.idem, g.logger, key, []byte(location))
	g.logger.WithFields(log.Fields{
		"tenant_id": order.TenantID,
		"order_id":  order.ID,
		"location":  location,
	}).Info("receipt generated")
	return nil
}

func buildReceipt(order domain.Order, payment domain.PaymentConfirmed) string {
	name := payment.CustomerName
	if name == "" {
		name = order.CustomerName
	}
	if name == "" {
		name = "Cliente"
	}

	var details []string
	for _, item := range order.Items {
		subtotal := int64(item.Qty) * item.PriceMinor
		details = append(details,
			fmt.Sprintf("  %s", item.Name),
			fmt.Sprintf("    Cantidad: %d", item.Qty),
			fmt.Sprintf("    Precio unitario: %s", formatAmount(order.Currency, item.PriceMinor)),
			fmt.Sprintf("    Subtotal: %s", formatAmount(order.Currency, subtotal)),
			"",
		)
	}

	return fmt.Sprintf(`========================================
           RECIBO DE PAGO
========================================

Fecha de generación: %s
ID de Pedido: %s
Tenant ID: %s
ID de Pago: %s
ID de Preferencia: %s

----------------------------------------
           DATOS DEL CLIENTE
----------------------------------------
Nombre: %s
Email: %s

----------------------------------------
           DETALLE DEL PEDIDO
----------------------------------------
%s
----------------------------------------
           RESUMEN DE PAGO
----------------------------------------
Total pagado: %s
Estado: PAGADO

¡Gracias por tu compra!
========================================`,
		time.Now().UTC().Format("02/01/2006 15:04:05 UTC"),
		order.ID,
		order.TenantID,
		payment.PaymentID,
		order.PreferenceID,
		name,
		payment.CustomerEmail,
		strings.Join(details, "\n"),
		formatAmount(order.Currency, order.AmountMinor),
	)
}
