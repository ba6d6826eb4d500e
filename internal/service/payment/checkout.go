package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// CheckoutItem — позиция заказа в запросе на оплату.
type CheckoutItem struct {
	Name       string
	Qty        int32
	PriceMinor int64
}

// CheckoutRequest — запрос на создание заказа и платёжной сессии.
type CheckoutRequest struct {
	TenantID string
	// OrderID опционален: пустой идентификатор минтится сервисом.
	OrderID       string
	CustomerEmail string
	CustomerName  string
	Currency      string
	Items         []CheckoutItem
}

// CheckoutResult — созданный заказ и данные для редиректа на оплату.
type CheckoutResult struct {
	Order        domain.Order
	PreferenceID string
	InitPoint    string
}

// CheckoutService создаёт заказ в статусе pending_payment и платёжную
// преференцию у провайдера. Сквозная ссылка "{tenant_id}:{order_id}"
// передаётся провайдеру и возвращается в webhook-уведомлении.
type CheckoutService struct {
	orders   domain.OrderRepository
	provider domain.PaymentProvider
	logger   *log.Entry
}

// NewCheckoutService создаёт сервис checkout.
func NewCheckoutService(orders domain.OrderRepository, provider domain.PaymentProvider, logger *log.Entry) *CheckoutService {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &CheckoutService{
		orders:   orders,
		provider: provider,
		logger:   logger,
	}
}

// Checkout валидирует позиции, сохраняет заказ и создаёт преференцию.
// Повторный checkout существующего заказа только обновляет преференцию.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	now := time.Now().UTC()

	items := make([]domain.OrderItem, 0, len(req.Items))
	var amountSum int64
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
		lineTotal, err := lineAmount(item.Qty, item.PriceMinor)
		if err != nil {
			return CheckoutResult{}, err
		}
		amountSum += lineTotal
		if amountSum < 0 {
			return CheckoutResult{}, domain.ErrAmountOverflow
		}
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	order := domain.Order{
		TenantID:      req.TenantID,
		ID:            orderID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Status:        domain.OrderStatusPendingPayment,
		Currency:      req.Currency,
		AmountMinor:   amountSum,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return CheckoutResult{}, errors.Join(errs...)
	}

	if err := s.orders.Create(order); err != nil {
		if !errors.Is(err, domain.ErrOrderExists) {
			s.logger.WithError(err).WithFields(log.Fields{
				"tenant_id": req.TenantID,
				"order_id":  orderID,
			}).Error("failed to create order")
			return CheckoutResult{}, fmt.Errorf("create order: %w", err)
		}
		// Повторный checkout: заказ уже есть, обновляем только преференцию.
		existing, getErr := s.orders.Get(req.TenantID, orderID)
		if getErr != nil {
			return CheckoutResult{}, fmt.Errorf("load existing order: %w", getErr)
		}
		if existing.Status != domain.OrderStatusPendingPayment {
			return CheckoutResult{}, fmt.Errorf("%w: order %s is already %s", domain.ErrInvalidState, orderID, existing.Status)
		}
		order = existing
	}

	preference, err := s.provider.CreatePreference(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": req.TenantID,
			"order_id":  orderID,
		}).Error("failed to create checkout preference")
		return CheckoutResult{}, fmt.Errorf("create preference: %w", err)
	}

	if err := s.orders.SetPreference(req.TenantID, orderID, preference.ID); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": req.TenantID,
			"order_id":  orderID,
		}).Warn("failed to store preference id")
	}
	order.PreferenceID = preference.ID

	s.logger.WithFields(log.Fields{
		"tenant_id":     req.TenantID,
		"order_id":      orderID,
		"preference_id": preference.ID,
		"amount_minor":  order.AmountMinor,
	}).Info("checkout preference created")

	return CheckoutResult{
		Order:        order,
		PreferenceID: preference.ID,
		InitPoint:    preference.InitPoint,
	}, nil
}

// lineAmount считает qty * price с защитой от переполнения int64. Значения
// вне допустимых границ вклад не дают: их отклонит ValidateInvariants.
func lineAmount(qty int32, priceMinor int64) (int64, error) {
	if qty <= 0 || priceMinor < 0 {
		return 0, nil
	}
	if priceMinor > 0 && int64(qty) > math.MaxInt64/priceMinor {
		return 0, domain.ErrAmountOverflow
	}
	return int64(qty) * priceMinor, nil
}
