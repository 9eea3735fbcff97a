package models

import "errors"

// Ошибки бизнес-логики. Обработчики сопоставляют их с HTTP-статусами через errors.Is.
var (
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidCartItem       = errors.New("invalid cart item")
	ErrAmountTooSmall        = errors.New("amount is below the provider minimum")
	ErrPaymentIntentCreation = errors.New("failed to create payment intent")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrInvoiceCreation       = errors.New("failed to create invoice")
	ErrAccessDenied          = errors.New("access denied")
	ErrPaymentNotConfirmed   = errors.New("payment is not confirmed")
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailExists           = errors.New("email already exists")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUnknownAgent          = errors.New("unknown agent")
	ErrAgentNotPurchasable   = errors.New("agent is not purchasable")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderExists           = errors.New("order already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
)
