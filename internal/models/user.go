// Package models содержит доменные структуры маркетплейса AI-агентов:
// пользователей, подписки на агентов, заказы, корзину и сессии,
// а также общие ошибки бизнес-логики.
package models

import (
	"slices"
	"time"
)

// User представляет зарегистрированного пользователя маркетплейса.
type User struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	Name             *string    `json:"name,omitempty"`
	PasswordHash     string     `json:"-"`
	CustomerID       *string    `json:"-"`                 // Идентификатор клиента у платёжного провайдера
	SubscribedAgents []string   `json:"subscribed_agents"` // Явно выданные агенты, в порядке выдачи
	TrialEndsAt      *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// HasGrant сообщает, выдан ли агент пользователю явно.
func (u *User) HasGrant(agentID string) bool {
	return slices.Contains(u.SubscribedAgents, agentID)
}

// InTrial сообщает, действует ли общий пробный период пользователя на момент now.
func (u *User) InTrial(now time.Time) bool {
	return u.TrialEndsAt != nil && u.TrialEndsAt.After(now)
}
