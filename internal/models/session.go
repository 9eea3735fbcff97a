package models

import "time"

// Session серверная запись сессии.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal аутентифицированный пользователь текущего запроса.
type Principal struct {
	UserID    int64
	Email     string
	SessionID string
}
