package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора арендатора (ресторана).
	ErrTenantRequired = errors.New("tenant_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего email клиента.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве позиции (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка переполнения суммы заказа при умножении qty на цену.
	ErrAmountOverflow = errors.New("order amount overflows")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при попытке создать заказ с существующим ключом.
	ErrOrderExists = errors.New("order already exists")
	// ErrInvalidState — статус-предшественник перехода не совпал с текущим.
	// Условное обновление не применено, запись не изменена.
	ErrInvalidState = errors.New("order is not in the expected status")
	// ErrNotReady — подтверждение шага пришло, но continuation-токен для него
	// ещё не сохранён. Отличается от ErrOrderNotFound: заказ существует.
	ErrNotReady = errors.New("step is not awaiting confirmation")
	// ErrUnknownStep — имя шага подтверждения не входит в известный набор.
	ErrUnknownStep = errors.New("unknown confirmation step")

	// ErrInvalidToken — workflow-движок отверг continuation-токен как
	// недействительный или уже погашенный.
	ErrInvalidToken = errors.New("continuation token rejected by workflow engine")
	// ErrWorkflowUnavailable — временная недоступность workflow-движка;
	// токен сохраняется, повтор допустим.
	ErrWorkflowUnavailable = errors.New("workflow engine unavailable")
	// ErrExecutionExists — исполнение workflow с таким именем уже запущено.
	ErrExecutionExists = errors.New("workflow execution already exists")

	// ErrSubscriberNotFound возвращается, если подписчик не зарегистрирован.
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrConnectionGone — канал подписчика безвозвратно закрыт; регистрацию
	// следует удалить.
	ErrConnectionGone = errors.New("subscriber connection gone")

	// ErrStageEntryNotFound возвращается, если запись стадии отсутствует в журнале.
	ErrStageEntryNotFound = errors.New("stage entry not found")

	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrPaymentNotFound — провайдер не знает платёж с таким идентификатором.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — запись с таким ключом уже создана.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — повтор с тем же ключом, но другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsInvalidState проверяет, является ли ошибка нарушением предусловия перехода.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsIdempotencyConflict проверяет, относится ли ошибка к конфликту idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
