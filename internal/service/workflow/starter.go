package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// Starter запускает исполнение workflow для оплаченного заказа. Имя
// исполнения — сквозная ссылка "{tenant_id}:{order_id}", поэтому повторный
// запуск того же заказа детерминированно даёт ErrExecutionExists.
type Starter struct {
	engine domain.WorkflowEngine
	logger *log.Entry
}

// NewStarter создаёт точку запуска workflow.
func NewStarter(engine domain.WorkflowEngine, logger *log.Entry) *Starter {
	if logger == nil {
		logger = log.New().WithField("component", "workflow-starter")
	}
	return &Starter{engine: engine, logger: logger}
}

// Start запускает исполнение и возвращает его идентификатор.
func (s *Starter) Start(ctx context.Context, tenantID, orderID string) (string, error) {
	if tenantID == "" {
		return "", domain.ErrTenantRequired
	}
	if orderID == "" {
		return "", domain.ErrOrderIDRequired
	}

	name := domain.ExternalReference{TenantID: tenantID, OrderID: orderID}.String()
	input, err := json.Marshal(map[string]string{
		"tenant_id": tenantID,
		"order_id":  orderID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal workflow input: %w", err)
	}

	executionID, err := s.engine.StartExecution(ctx, name, input)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionExists) {
			s.logger.WithFields(log.Fields{
				"tenant_id": tenantID,
				"order_id":  orderID,
			}).Warn("workflow execution already running")
			return "", err
		}
		s.logger.WithError(err).WithFields(log.Fields{
			"tenant_id": tenantID,
			"order_id":  orderID,
		}).Error("failed to start workflow execution")
		return "", fmt.Errorf("start execution %s: %w", name, err)
	}

	s.logger.WithFields(log.Fields{
		"tenant_id":    tenantID,
		"order_id":     orderID,
		"execution_id": executionID,
	}).Info("workflow execution started")
	return executionID, nil
}
