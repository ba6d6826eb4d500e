package domain

// OrderRepository описывает требования к хранилищу заказов.
// Все операции областью видимости привязаны к арендатору.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists,
	// если запись с таким ключом (tenant_id, order_id) уже есть.
	Create(order Order) error
	// Get возвращает заказ по ключу или ErrOrderNotFound, если его нет.
	Get(tenantID, orderID string) (Order, error)
	// ListActive возвращает заказы арендатора, ещё не достигшие терминального
	// статуса, с опциональным ограничением на количество.
	ListActive(tenantID string, limit int) ([]Order, error)
	// ListByEmail возвращает заказы клиента по email в рамках арендатора.
	ListByEmail(tenantID, email string, limit int) ([]Order, error)
	// ApplyTransition атомарно применяет условный переход: обновляет статус,
	// токены и служебные поля одной записью, только если текущий статус равен
	// tr.Expected. При несовпадении возвращает ErrInvalidState и текущий
	// снимок заказа; запись при этом не меняется.
	ApplyTransition(tenantID, orderID string, tr Transition) (Order, error)
	// ClearStageToken убирает continuation-токен стадии после успешного
	// resume, не трогая статус.
	ClearStageToken(tenantID, orderID string, stage Stage) (Order, error)
	// SetPreference сохраняет идентификатор checkout-преференции.
	SetPreference(tenantID, orderID, preferenceID string) error
}

// StageLedger хранит журнал стадий исполнения заказов.
type StageLedger interface {
	// OpenEntry создаёт открытую запись стадии (in_progress). Повторное
	// открытие незакрытой стадии перезаписывает запись последней попыткой;
	// закрытую (done) запись открытие не трогает.
	OpenEntry(entry StageEntry) error
	// CloseEntry закрывает запись: статус done, фиксируется EndedAt и,
	// при непустом worker, исполнитель. Закрытие уже закрытой или
	// отсутствующей записи не является ошибкой.
	CloseEntry(tenantID, orderID string, stage Stage, worker string) error
	// GetEntry возвращает запись стадии или ErrStageEntryNotFound.
	GetEntry(tenantID, orderID string, stage Stage) (StageEntry, error)
	// ListEntries возвращает все записи стадий заказа.
	ListEntries(tenantID, orderID string) ([]StageEntry, error)
}
