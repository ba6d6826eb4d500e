package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/service/broadcast"
	"github.com/vladislavdragonenkov/ofs/internal/service/coordinator"
	"github.com/vladislavdragonenkov/ofs/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ofs/internal/service/payment"
	"github.com/vladislavdragonenkov/ofs/internal/service/workflow"
)

// Коды ошибок структурированного ответа API.
const (
	codeInvalidInput   = "invalid_input"
	codeInvalidState   = "invalid_state"
	codeNotReady       = "not_ready"
	codeNotFound       = "not_found"
	codeAlreadyRunning = "already_running"
	codeInternal       = "internal"
)

const defaultListLimit = 100

// Services — зависимости HTTP-сервера. Каждое поле обслуживает свою группу
// маршрутов; nil-поля допустимы только в тестах, которые эти маршруты не зовут.
type Services struct {
	Checkout    *payment.CheckoutService
	Webhook     *payment.WebhookService
	Machine     *lifecycle.Machine
	Coordinator *coordinator.Coordinator
	Starter     *workflow.Starter
	Hub         *broadcast.Hub
	Orders      domain.OrderRepository
	Ledger      domain.StageLedger
}

// Server — HTTP-обвязка сервиса исполнения заказов. Вся бизнес-логика живёт
// в сервисах; здесь только разбор запросов и маппинг ошибок в статусы.
type Server struct {
	services Services
	logger   *log.Entry
}

// NewServer создаёт HTTP API поверх сервисного слоя.
func NewServer(services Services, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	return &Server{
		services: services,
		logger:   logger,
	}
}

// Handler собирает маршрутизатор API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /checkout", s.handleCheckout)
	mux.HandleFunc("POST /webhook/payment", s.handlePaymentWebhook)
	mux.HandleFunc("POST /workflow/start", s.handleWorkflowStart)
	mux.HandleFunc("POST /confirm", s.handleConfirm)
	mux.HandleFunc("POST /transitions/{transition}", s.handleTransition)
	mux.HandleFunc("GET /orders", s.handleListOrders)
	mux.HandleFunc("GET /orders/by-email", s.handleListByEmail)
	mux.HandleFunc("GET /orders/{tenant}/{order}", s.handleGetOrder)
	mux.HandleFunc("POST /connections", s.handleRegisterConnection)
	mux.HandleFunc("DELETE /connections/{id}", s.handleUnregisterConnection)

	return mux
}

// errorResponse — структурированное тело ошибки. Поля статусов заполняются
// только для invalid_state, чтобы upstream мог отличить дубликат перехода
// от перехода не по порядку.
type errorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	CurrentStatus  string `json:"current_status,omitempty"`
	ExpectedStatus string `json:"expected_status,omitempty"`
	AlreadyApplied *bool  `json:"already_applied,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("failed to encode response body")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeTransitionError маппит ошибки переходов и подтверждений в статусы API.
func (s *Server) writeTransitionError(w http.ResponseWriter, err error) {
	var invalidState *lifecycle.InvalidStateError
	switch {
	case errors.As(err, &invalidState):
		applied := invalidState.AlreadyApplied()
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:          codeInvalidState,
			Message:        invalidState.Error(),
			CurrentStatus:  string(invalidState.Current),
			ExpectedStatus: string(invalidState.Expected),
			AlreadyApplied: &applied,
		})
	case errors.Is(err, domain.ErrInvalidState):
		s.writeError(w, http.StatusBadRequest, codeInvalidState, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		s.writeError(w, http.StatusBadRequest, codeNotReady, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		s.writeError(w, http.StatusNotFound, codeNotFound, domain.ErrOrderNotFound.Error())
	case isValidationError(err):
		s.writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	default:
		s.logger.WithError(err).Error("request failed")
		s.writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// isValidationError проверяет принадлежность ошибки к нарушениям входных полей.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		domain.ErrTenantRequired,
		domain.ErrOrderIDRequired,
		domain.ErrCustomerEmailRequired,
		domain.ErrCurrencyRequired,
		domain.ErrItemsRequired,
		domain.ErrAmountNegative,
		domain.ErrItemQtyInvalid,
		domain.ErrItemPriceInvalid,
		domain.ErrAmountMismatch,
		domain.ErrAmountOverflow,
		domain.ErrUnknownStep,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

type itemView struct {
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type orderView struct {
	TenantID      string     `json:"tenant_id"`
	OrderID       string     `json:"order_id"`
	CustomerEmail string     `json:"customer_email"`
	CustomerName  string     `json:"customer_name,omitempty"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	AmountMinor   int64      `json:"amount_minor"`
	Items         []itemView `json:"items"`
	PreferenceID  string     `json:"preference_id,omitempty"`
	CreatedAt     string     `json:"created_at"`
	PaidAt        string     `json:"paid_at,omitempty"`
	UpdatedAt     string     `json:"updated_at"`
}

type stageView struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Worker    string `json:"worker"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

func toOrderView(order domain.Order) orderView {
	items := make([]itemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemView{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	view := orderView{
		TenantID:      order.TenantID,
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Status:        string(order.Status),
		Currency:      order.Currency,
		AmountMinor:   order.AmountMinor,
		Items:         items,
		PreferenceID:  order.PreferenceID,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !order.PaidAt.IsZero() {
		view.PaidAt = order.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	return view
}

func toStageView(entry domain.StageEntry) stageView {
	view := stageView{
		Stage:     string(entry.Stage),
		Status:    string(entry.Status),
		Worker:    entry.Worker,
		StartedAt: entry.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if !entry.EndedAt.IsZero() {
		view.EndedAt = entry.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return view
}
