package payment

import (
	"context"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// MockProvider — конфигурируемая заглушка PaymentProvider для тестов и
// локального запуска.
type MockProvider struct {
	Preference    domain.CheckoutPreference
	PreferenceErr error
	Payments      map[string]domain.PaymentInfo
	PaymentErr    error

	CreateCalls int
	GetCalls    int
	LastOrder   domain.Order
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Preference: domain.CheckoutPreference{
			ID:        "pref-mock",
			InitPoint: "https://checkout.example/pref-mock",
		},
		Payments: make(map[string]domain.PaymentInfo),
	}
}

// CreatePreference возвращает заранее настроенную преференцию и считает вызовы.
func (m *MockProvider) CreatePreference(_ context.Context, order domain.Order) (domain.CheckoutPreference, error) {
	m.CreateCalls++
	m.LastOrder = order
	if m.PreferenceErr != nil {
		return domain.CheckoutPreference{}, m.PreferenceErr
	}
	return m.Preference, nil
}

// GetPayment возвращает настроенный платёж или ErrPaymentNotFound.
func (m *MockProvider) GetPayment(_ context.Context, paymentID string) (domain.PaymentInfo, error) {
	m.GetCalls++
	if m.PaymentErr != nil {
		return domain.PaymentInfo{}, m.PaymentErr
	}
	info, ok := m.Payments[paymentID]
	if !ok {
		return domain.PaymentInfo{}, domain.ErrPaymentNotFound
	}
	return info, nil
}

var _ domain.PaymentProvider = (*MockProvider)(nil)
