package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в OFS.
// Последовательность строго прямая, без пропусков и возвратов.
type OrderStatus string

const (
	// OrderStatusPendingPayment — ссылка на оплату выдана, платёж ещё не подтверждён.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid — платёжный провайдер подтвердил оплату.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusKitchen — заказ готовится на кухне.
	OrderStatusKitchen OrderStatus = "kitchen"
	// OrderStatusPackaging — заказ упаковывается.
	OrderStatusPackaging OrderStatus = "packaging"
	// OrderStatusDelivery — заказ в пути к клиенту.
	OrderStatusDelivery OrderStatus = "delivery"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPaid, OrderStatusKitchen,
		OrderStatusPackaging, OrderStatusDelivery, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// Name — название блюда, как его видит клиент.
	Name string
	// Qty — количество единиц.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа, его позиции и continuation-токены стадий.
// Ключ записи — пара (TenantID, ID); записи заказов никогда не удаляются.
type Order struct {
	TenantID      string
	ID            string
	CustomerEmail string
	CustomerName  string
	Status        OrderStatus
	Currency      string
	AmountMinor   int64
	Items         []OrderItem

	// PreferenceID — идентификатор checkout-преференции платёжного провайдера.
	PreferenceID string

	// Continuation-токены внешнего workflow, по одному полю на стадию.
	// Инвариант: одновременно заполнено не более одного поля, и оно
	// соответствует текущему Status. Жизненный цикл поля: пусто ->
	// заполнено при переходе стадии -> пусто после успешного resume.
	TokenKitchen   string
	TokenPackaging string
	TokenDelivery  string

	Version   int64
	CreatedAt time.Time
	// PaidAt заполняется переходом в статус paid; нулевое время = не оплачен.
	PaidAt    time.Time
	UpdatedAt time.Time
}

// StageToken возвращает continuation-токен, сохранённый для стадии.
// Пустая строка означает, что подтверждение на этой стадии не ожидается.
func (o *Order) StageToken(stage Stage) string {
	switch stage {
	case StageKitchen:
		return o.TokenKitchen
	case StagePackaging:
		return o.TokenPackaging
	case StageDelivery:
		return o.TokenDelivery
	default:
		return ""
	}
}

// SetStageToken записывает токен стадии, предварительно очищая остальные
// поля, чтобы сохранить инвариант "не более одного токена".
func (o *Order) SetStageToken(stage Stage, token string) {
	o.TokenKitchen = ""
	o.TokenPackaging = ""
	o.TokenDelivery = ""
	switch stage {
	case StageKitchen:
		o.TokenKitchen = token
	case StagePackaging:
		o.TokenPackaging = token
	case StageDelivery:
		o.TokenDelivery = token
	}
}

// ClearStageToken сбрасывает токен одной стадии после успешного resume.
func (o *Order) ClearStageToken(stage Stage) {
	switch stage {
	case StageKitchen:
		o.TokenKitchen = ""
	case StagePackaging:
		o.TokenPackaging = ""
	case StageDelivery:
		o.TokenDelivery = ""
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.TenantID == "" {
		errs = append(errs, ErrTenantRequired)
	}
	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.CustomerEmail == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Transition описывает условное обновление заказа: compare-and-swap
// по точному статусу-предшественнику плюс сопутствующие мутации.
type Transition struct {
	// Expected — точный статус-предшественник; никакого fuzzy-сопоставления.
	Expected OrderStatus
	// Next — целевой статус перехода.
	Next OrderStatus
	// Token сохраняется в поле токена стадии Next, если стадия приостанавливаемая
	// и токен непустой. Терминальный переход токен не хранит.
	Token string
	// PaidAt выставляется при переходе в paid; нулевое значение игнорируется.
	PaidAt time.Time
}
