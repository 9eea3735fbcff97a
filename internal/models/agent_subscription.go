package models

import "time"

// SubscriptionStatus статус подписки пользователя на агента.
type SubscriptionStatus string

// Допустимые статусы подписки.
const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// ParseSubscriptionStatus приводит статус провайдера к доменному.
// Статусы, которых нет в доменной модели, сворачиваются: незавершённые оплаты
// считаются просроченными, завершённые и приостановленные считаются отменёнными.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "active":
		return SubscriptionActive
	case "trialing":
		return SubscriptionTrialing
	case "past_due", "unpaid", "incomplete":
		return SubscriptionPastDue
	default:
		return SubscriptionCanceled
	}
}

// Grants сообщает, даёт ли статус доступ сам по себе.
func (s SubscriptionStatus) Grants() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// AgentSubscription подписка пользователя на конкретного агента.
// Записи никогда не удаляются: отмена переводит статус в canceled.
type AgentSubscription struct {
	ID                     int64              `json:"id"`
	UserID                 int64              `json:"user_id"`
	AgentID                string             `json:"agent_id"`
	ProviderSubscriptionID string             `json:"subscription_id"`
	Status                 SubscriptionStatus `json:"status"`
	PriceID                string             `json:"price_id"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// GrantsAccess сообщает, даёт ли подписка доступ на момент now:
// по статусу либо по ещё не истёкшему пробному периоду.
func (s *AgentSubscription) GrantsAccess(now time.Time) bool {
	if s.Status.Grants() {
		return true
	}
	return s.TrialEnd != nil && s.TrialEnd.After(now)
}
