package domain

import (
	"fmt"
	"strings"
)

// ExternalReference — сквозная ссылка, которую мы передаём платёжному
// провайдеру при создании преференции и получаем обратно в webhook.
// Формат на проводе: "{tenant_id}:{order_id}".
type ExternalReference struct {
	TenantID string
	OrderID  string
}

// String сериализует ссылку в формат провайдера.
func (r ExternalReference) String() string {
	return r.TenantID + ":" + r.OrderID
}

// ParseExternalReference разбирает ссылку из webhook-уведомления.
// Искажённая ссылка — ожидаемый мусор от провайдера, не сбой.
func ParseExternalReference(raw string) (ExternalReference, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ExternalReference{}, fmt.Errorf("malformed external reference %q", raw)
	}
	return ExternalReference{TenantID: parts[0], OrderID: parts[1]}, nil
}

// PaymentNotification — распознанное webhook-уведомление провайдера.
type PaymentNotification struct {
	// Type — вид уведомления; обрабатываются только "payment".
	Type string
	// PaymentID — идентификатор платежа у провайдера.
	PaymentID string
}

// PaymentConfirmed — событие подтверждённой оплаты, публикуемое
// для downstream-потребителей (письмо, чек).
type PaymentConfirmed struct {
	TenantID      string `json:"tenant_id"`
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"cliente_email"`
	CustomerName  string `json:"cliente_nombre"`
	PaymentID     string `json:"payment_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}
