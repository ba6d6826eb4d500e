package domain

import "time"

// Stage — приостанавливаемая стадия исполнения заказа.
type Stage string

const (
	StageKitchen   Stage = "kitchen"
	StagePackaging Stage = "packaging"
	StageDelivery  Stage = "delivery"
)

// Valid проверяет, что стадия относится к поддерживаемым значениям.
func (s Stage) Valid() bool {
	switch s {
	case StageKitchen, StagePackaging, StageDelivery:
		return true
	default:
		return false
	}
}

// EntryStatus описывает состояние записи стадии в журнале.
type EntryStatus string

const (
	// StageInProgress — стадия открыта, работа идёт.
	StageInProgress EntryStatus = "in_progress"
	// StageDone — стадия закрыта, зафиксировано время окончания.
	StageDone EntryStatus = "done"
)

// WorkerUnassigned — значение поля Worker, пока исполнитель не назначен.
const WorkerUnassigned = "unassigned"

// StageEntry — запись журнала стадий: кто и когда работал над заказом
// на конкретной стадии. Ключ записи — (TenantID, OrderID, Stage).
type StageEntry struct {
	TenantID  string
	OrderID   string
	Stage     Stage
	Status    EntryStatus
	Worker    string
	StartedAt time.Time
	// EndedAt заполняется при закрытии; нулевое время = стадия открыта.
	EndedAt time.Time
}

// Open возвращает true, пока стадия не закрыта.
func (e *StageEntry) Open() bool {
	return e.Status == StageInProgress
}

// ConfirmationStep — внешнее имя шага подтверждения, с которым работники
// обращаются к API. Имена исторические и менять их нельзя.
type ConfirmationStep string

const (
	StepKitchenReady      ConfirmationStep = "cocina-lista"
	StepPackagingReady    ConfirmationStep = "empaquetamiento-listo"
	StepDeliveryDelivered ConfirmationStep = "delivery-entregado"
)

// StageForStep сопоставляет шаг подтверждения стадии, токен которой он гасит.
func StageForStep(step ConfirmationStep) (Stage, error) {
	switch step {
	case StepKitchenReady:
		return StageKitchen, nil
	case StepPackagingReady:
		return StagePackaging, nil
	case StepDeliveryDelivered:
		return StageDelivery, nil
	default:
		return "", ErrUnknownStep
	}
}

// StageForStatus возвращает стадию, журнал которой открывается при входе
// в статус. Не у каждого статуса есть стадия.
func StageForStatus(status OrderStatus) (Stage, bool) {
	switch status {
	case OrderStatusKitchen:
		return StageKitchen, true
	case OrderStatusPackaging:
		return StagePackaging, true
	case OrderStatusDelivery:
		return StageDelivery, true
	default:
		return "", false
	}
}
