package models

import (
	"encoding/json"
	"time"
)

// OrderStatus статус заказа.
type OrderStatus string

// Статусы заказа.
const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Order неизменяемая запись о совершённой покупке. Создаётся только после
// подтверждения платежа; позже меняется лишь статус и недостающий счёт.
type Order struct {
	ID              int64       `json:"id"`
	UserID          int64       `json:"user_id"`
	InvoiceID       *string     `json:"invoice_id,omitempty"`
	PaymentIntentID *string     `json:"payment_intent_id,omitempty"`
	Amount          int64       `json:"amount"` // В минимальных единицах валюты
	Status          OrderStatus `json:"status"`
	Items           string      `json:"items"` // JSON-снимок корзины
	CreatedAt       time.Time   `json:"created_at"`
}

// CartItems разбирает снимок корзины заказа.
func (o *Order) CartItems() ([]CartItem, error) {
	var items []CartItem
	if o.Items == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(o.Items), &items); err != nil {
		return nil, err
	}
	return items, nil
}
