package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// Confirmation — подтверждение шага от консоли сотрудника.
type Confirmation struct {
	Step     domain.ConfirmationStep
	TenantID string
	OrderID  string
	// Worker — необязательное имя сотрудника или курьера, фиксируется
	// в закрываемой записи stage ledger.
	Worker string
}

// Coordinator гасит continuation token'ы внешнего workflow-движка.
// Токен одноразовый: он удаляется с заказа только после успешного Resume.
type Coordinator struct {
	orders domain.OrderRepository
	ledger domain.StageLedger
	engine domain.WorkflowEngine
	logger *log.Entry
}

// NewCoordinator создаёт координатор подтверждений.
func NewCoordinator(
	orders domain.OrderRepository,
	ledger domain.StageLedger,
	engine domain.WorkflowEngine,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "coordinator")
	}
	return &Coordinator{
		orders: orders,
		ledger: ledger,
		engine: engine,
		logger: logger,
	}
}

// ConfirmStep обрабатывает подтверждение шага: находит токен стадии, закрывает
// запись ledger и будит приостановленный workflow. Отсутствующий токен даёт
// ErrNotReady — заказ существует, но стадия ещё не ожидает подтверждения.
func (c *Coordinator) ConfirmStep(ctx context.Context, conf Confirmation) error {
	stage, err := domain.StageForStep(conf.Step)
	if err != nil {
		return err
	}

	order, err := c.orders.Get(conf.TenantID, conf.OrderID)
	if err != nil {
		return err
	}

	token := order.StageToken(stage)
	if token == "" {
		c.logger.WithFields(log.Fields{
			"tenant_id": conf.TenantID,
			"order_id":  conf.OrderID,
			"stage":     stage,
			"status":    order.Status,
		}).Warn("confirmation arrived before stage token was stored")
		return domain.ErrNotReady
	}

	if err := c.ledger.CloseEntry(conf.TenantID, conf.OrderID, stage, conf.Worker); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": conf.TenantID,
			"order_id":  conf.OrderID,
			"stage":     stage,
		}).Warn("failed to close stage entry on confirmation")
	}

	output, err := json.Marshal(map[string]any{
		"paso":      string(conf.Step),
		"tenant_id": conf.TenantID,
		"order_id":  conf.OrderID,
		"worker":    conf.Worker,
	})
	if err != nil {
		return fmt.Errorf("marshal resume output: %w", err)
	}

	if err := c.engine.Resume(ctx, token, output); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			// Токен уже погашен или протух: чистим его и сообщаем
			// вызывающему, что подтверждать нечего.
			c.clearToken(conf.TenantID, conf.OrderID, stage)
			c.logger.WithFields(log.Fields{
				"tenant_id": conf.TenantID,
				"order_id":  conf.OrderID,
				"stage":     stage,
			}).Warn("stored continuation token was rejected by the engine")
			return domain.ErrNotReady
		default:
			// Токен остаётся на заказе: подтверждение можно повторить.
			c.logger.WithError(err).WithFields(log.Fields{
				"tenant_id": conf.TenantID,
				"order_id":  conf.OrderID,
				"stage":     stage,
			}).Error("workflow resume failed")
			return fmt.Errorf("%w: %v", domain.ErrWorkflowUnavailable, err)
		}
	}

	c.clearToken(conf.TenantID, conf.OrderID, stage)
	c.logger.WithFields(log.Fields{
		"tenant_id": conf.TenantID,
		"order_id":  conf.OrderID,
		"stage":     stage,
		"paso":      conf.Step,
	}).Info("stage confirmation resumed workflow")
	return nil
}

func (c *Coordinator) clearToken(tenantID, orderID string, stage domain.Stage) {
	if _, err := c.orders.ClearStageToken(tenantID, orderID, stage); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
			"stage":     stage,
		}).Warn("failed to clear stage token")
	}
}
