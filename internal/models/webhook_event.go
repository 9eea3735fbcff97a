package models

import "time"

// WebhookEvent запись журнала входящих событий провайдера.
type WebhookEvent struct {
	ID              int64
	ProviderEventID string
	Type            string
	Payload         []byte
	ProcessedAt     *time.Time
	ProcessingError *string
}

// ReconcileTask задача на досоздание счёта или заказа после подтверждённого платежа.
type ReconcileTask struct {
	UserID          int64      `json:"user_id"`
	PaymentIntentID string     `json:"payment_intent_id"`
	Items           []CartItem `json:"items"`
	OrderID         *int64     `json:"order_id,omitempty"`
	InvoiceID       *string    `json:"invoice_id,omitempty"`
	Reason          string     `json:"reason"`
}
