package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/event"
	"github.com/vladislavdragonenkov/ofs/internal/service/coordinator"
	"github.com/vladislavdragonenkov/ofs/internal/service/payment"
)

type checkoutItemRequest struct {
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type checkoutRequest struct {
	TenantID      string                `json:"tenant_id"`
	OrderID       string                `json:"order_id"`
	CustomerEmail string                `json:"customer_email"`
	CustomerName  string                `json:"customer_name"`
	Currency      string                `json:"currency"`
	Items         []checkoutItemRequest `json:"items"`
}

type checkoutResponse struct {
	TenantID     string `json:"tenant_id"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	Currency     string `json:"currency"`
	AmountMinor  int64  `json:"amount_minor"`
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "malformed request body")
		return
	}

	items := make([]payment.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, payment.CheckoutItem{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	result, err := s.services.Checkout.Checkout(r.Context(), payment.CheckoutRequest{
		TenantID:      req.TenantID,
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Currency:      req.Currency,
		Items:         items,
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, checkoutResponse{
		TenantID:     result.Order.TenantID,
		OrderID:      result.Order.ID,
		Status:       string(result.Order.Status),
		Currency:     result.Order.Currency,
		AmountMinor:  result.Order.AmountMinor,
		PreferenceID: result.PreferenceID,
		InitPoint:    result.InitPoint,
	})
}

// handlePaymentWebhook принимает уведомления платёжного провайдера.
// Идентификатор платежа приходит либо в query (?type=payment&data.id=...),
// либо в JSON-теле {"type": "payment", "data": {"id": "..."}}. Непригодные
// к обработке уведомления квитируются 200, чтобы провайдер их не повторял.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	notification := parseNotification(r)

	if err := s.services.Webhook.HandleNotification(r.Context(), notification); err != nil {
		s.logger.WithError(err).WithField("payment_id", notification.PaymentID).Error("webhook processing failed")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "notification processing failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseNotification(r *http.Request) domain.PaymentNotification {
	query := r.URL.Query()
	notification := domain.PaymentNotification{
		Type:      query.Get("type"),
		PaymentID: query.Get("data.id"),
	}
	if notification.Type == "" {
		notification.Type = query.Get("topic")
	}
	if notification.PaymentID == "" {
		notification.PaymentID = query.Get("id")
	}

	var body struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		if notification.Type == "" {
			notification.Type = body.Type
		}
		if notification.PaymentID == "" {
			notification.PaymentID = body.Data.ID
		}
	}

	return notification
}

func (s *Server) handleWorkflowStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		OrderID  string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "malformed request body")
		return
	}

	executionID, err := s.services.Starter.Start(r.Context(), req.TenantID, req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExecutionExists):
			s.writeError(w, http.StatusConflict, codeAlreadyRunning, domain.ErrExecutionExists.Error())
		case isValidationError(err):
			s.writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		default:
			s.logger.WithError(err).Error("workflow start failed")
			s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to start workflow")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"execution_id": executionID})
}

// handleConfirm обрабатывает подтверждение шага от консоли сотрудника.
// Тело принимает любую из поддерживаемых обёрток (см. event.Normalize).
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	envelope, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}

	paso := envelope.String("paso")
	if paso == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "paso is required")
		return
	}
	tenantID, orderID, ok := s.requireOrderKey(w, envelope)
	if !ok {
		return
	}

	err := s.services.Coordinator.ConfirmStep(r.Context(), coordinator.Confirmation{
		Step:     domain.ConfirmationStep(paso),
		TenantID: tenantID,
		OrderID:  orderID,
		Worker:   envelope.String("worker"),
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "confirmed",
		"paso":   paso,
	})
}

// handleTransition применяет переход конечного автомата. Вызывается
// workflow-механизмом, поэтому тело может прийти в любой обёртке;
// continuation token берётся из обёртки или из поля taskToken.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	envelope, ok := s.readEnvelope(w, r)
	if !ok {
		return
	}

	tenantID, orderID, ok := s.requireOrderKey(w, envelope)
	if !ok {
		return
	}
	worker := envelope.String("worker")
	token := envelope.TaskToken
	if token == "" {
		token = envelope.String("taskToken")
	}

	ctx := r.Context()
	var (
		order domain.Order
		err   error
	)
	switch transition := r.PathValue("transition"); transition {
	case "kitchen":
		order, err = s.services.Machine.StartKitchen(ctx, tenantID, orderID, token, worker)
	case "packaging":
		order, err = s.services.Machine.StartPackaging(ctx, tenantID, orderID, token, worker)
	case "delivery":
		order, err = s.services.Machine.StartDelivery(ctx, tenantID, orderID, token, worker)
	case "delivered":
		order, err = s.services.Machine.CompleteDelivery(ctx, tenantID, orderID, worker)
	default:
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "unknown transition "+strconv.Quote(transition))
		return
	}
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": order.TenantID,
		"order_id":  order.ID,
		"status":    string(order.Status),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, domain.ErrTenantRequired.Error())
		return
	}
	limit, ok := s.readLimit(w, r)
	if !ok {
		return
	}

	orders, err := s.services.Orders.ListActive(tenantID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Error("failed to list orders")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to list orders")
		return
	}

	// Неоплаченные заказы в рабочей выборке не показываются: до
	// подтверждения оплаты исполнять нечего.
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		if order.Status == domain.OrderStatusPendingPayment {
			continue
		}
		views = append(views, toOrderView(order))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) handleListByEmail(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	email := r.URL.Query().Get("email")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, domain.ErrTenantRequired.Error())
		return
	}
	if email == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, domain.ErrCustomerEmailRequired.Error())
		return
	}
	limit, ok := s.readLimit(w, r)
	if !ok {
		return
	}

	orders, err := s.services.Orders.ListByEmail(tenantID, email, limit)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"email":     email,
		}).Error("failed to list orders by email")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to list orders")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	orderID := r.PathValue("order")

	order, err := s.services.Orders.Get(tenantID, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.writeError(w, http.StatusNotFound, codeNotFound, domain.ErrOrderNotFound.Error())
			return
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
		}).Error("failed to load order")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to load order")
		return
	}

	entries, err := s.services.Ledger.ListEntries(tenantID, orderID)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
		}).Warn("failed to list stage entries")
	}
	stages := make([]stageView, 0, len(entries))
	for _, entry := range entries {
		stages = append(stages, toStageView(entry))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"order":  toOrderView(order),
		"stages": stages,
	})
}

func (s *Server) handleRegisterConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
		Role         string `json:"role"`
		TenantID     string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "malformed request body")
		return
	}
	if req.ConnectionID == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "connection_id is required")
		return
	}
	role := domain.SubscriberRole(req.Role)
	if role != domain.RoleChef && role != domain.RoleCustomer {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "role must be chef or customer")
		return
	}

	if err := s.services.Hub.Register(domain.Subscriber{
		ConnectionID: req.ConnectionID,
		Role:         role,
		TenantID:     req.TenantID,
	}); err != nil {
		s.logger.WithError(err).WithField("connection_id", req.ConnectionID).Error("failed to register connection")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to register connection")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleUnregisterConnection(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")

	if err := s.services.Hub.Unregister(connectionID); err != nil {
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			s.writeError(w, http.StatusNotFound, codeNotFound, domain.ErrSubscriberNotFound.Error())
			return
		}
		s.logger.WithError(err).WithField("connection_id", connectionID).Error("failed to unregister connection")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to unregister connection")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// readEnvelope читает тело запроса и нормализует обёртку входного сообщения.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request) (event.Envelope, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to read request body")
		return event.Envelope{}, false
	}

	envelope, err := event.Normalize(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return event.Envelope{}, false
	}
	return envelope, true
}

func (s *Server) requireOrderKey(w http.ResponseWriter, envelope event.Envelope) (string, string, bool) {
	tenantID := envelope.String("tenant_id")
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, domain.ErrTenantRequired.Error())
		return "", "", false
	}
	orderID := envelope.String("order_id")
	if orderID == "" {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, domain.ErrOrderIDRequired.Error())
		return "", "", false
	}
	return tenantID, orderID, true
}

func (s *Server) readLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
