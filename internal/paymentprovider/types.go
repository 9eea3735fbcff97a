package paymentprovider

import (
	"encoding/json"
	"time"
)

// PaymentIntentRequest параметры создания платёжного намерения.
type PaymentIntentRequest struct {
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// PaymentIntent платёжное намерение провайдера.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
	CustomerID   string
	Metadata     map[string]string
}

// Succeeded сообщает, что платёж подтверждён и списан.
func (p *PaymentIntent) Succeeded() bool {
	return p.Status == "succeeded"
}

// CustomerRequest параметры создания клиента.
type CustomerRequest struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// InvoiceItemRequest строка счёта InvoiceID.
type InvoiceItemRequest struct {
	CustomerID  string
	InvoiceID   string
	AmountMinor int64
	Currency    string
	Description string
}

// InvoiceRequest параметры создания счёта.
type InvoiceRequest struct {
	CustomerID   string
	DaysUntilDue int64
	Metadata     map[string]string
}

// Invoice счёт провайдера.
type Invoice struct {
	ID              string
	Status          string
	HostedURL       string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
}

// SubscriptionRequest параметры создания подписки.
type SubscriptionRequest struct {
	CustomerID      string
	PriceID         string
	TrialPeriodDays int64
	Metadata        map[string]string
}

// Subscription подписка провайдера.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
}

// Event проверенное событие вебхука.
type Event struct {
	ID      string
	Type    string
	Object  json.RawMessage // data.object события
	Payload []byte          // исходное тело запроса
}
