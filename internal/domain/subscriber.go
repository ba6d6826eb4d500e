package domain

import "time"

// SubscriberRole определяет, какие рассылки получает подключение.
type SubscriberRole string

const (
	// RoleChef — сотрудник кухни; получает уведомления об оплаченных заказах.
	RoleChef SubscriberRole = "chef"
	// RoleCustomer — клиентское подключение; рассылкой не охвачено.
	RoleCustomer SubscriberRole = "customer"
)

// Subscriber — зарегистрированное push-подключение.
// Ключ записи — ConnectionID; повторная регистрация перезаписывает роль.
type Subscriber struct {
	ConnectionID string
	Role         SubscriberRole
	TenantID     string
	RegisteredAt time.Time
}
