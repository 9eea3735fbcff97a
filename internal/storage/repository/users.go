package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

const userColumns = `id, email, name, password_hash, customer_id, subscribed_agents, trial_ends_at, created_at`

func (s *Storage) scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var name, customerID sql.NullString
	var trialEndsAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &customerID,
		s.types.SQLScanner(&u.SubscribedAgents), &trialEndsAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	if name.Valid {
		u.Name = &name.String
	}
	if customerID.Valid {
		u.CustomerID = &customerID.String
	}
	if trialEndsAt.Valid {
		u.TrialEndsAt = &trialEndsAt.Time
	}
	if u.SubscribedAgents == nil {
		u.SubscribedAgents = []string{}
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя и возвращает его ID.
// Почта хранится в нижнем регистре; повтор возвращает models.ErrEmailExists.
func (s *Storage) CreateUser(ctx context.Context, email string, name *string, passwordHash string, trialEndsAt time.Time) (int64, error) {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	var id int64
	query := `INSERT INTO users (email, name, password_hash, trial_ends_at)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id`
	err := s.DB.QueryRowContext(ctx, query, strings.ToLower(email), name, passwordHash, trialEndsAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%s: %w", op, models.ErrEmailExists)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetUserByID возвращает пользователя по ID.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUserByID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	u, err := s.scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по почте без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	u, err := s.scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GrantAgent добавляет агента в явные выдачи пользователя одним атомарным
// обновлением. Повторная выдача ничего не меняет.
func (s *Storage) GrantAgent(ctx context.Context, userID int64, agentID string) error {
	const op = "storage.GrantAgent"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE users
			  SET subscribed_agents = array_append(subscribed_agents, $2::text)
			  WHERE id = $1 AND NOT ($2::text = ANY(subscribed_agents))`
	res, err := s.DB.ExecContext(ctx, query, userID, agentID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	return nil
}

// SetCustomerID привязывает клиента провайдера к пользователю, если привязки ещё нет,
// и возвращает действующий идентификатор клиента.
func (s *Storage) SetCustomerID(ctx context.Context, userID int64, customerID string) (string, error) {
	const op = "storage.SetCustomerID"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	var current sql.NullString
	err := s.DB.QueryRowContext(ctx, `UPDATE users SET customer_id = $2
			  WHERE id = $1 AND customer_id IS NULL
			  RETURNING customer_id`, userID, customerID).Scan(&current)
	if err == nil {
		return current.String, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	err = s.DB.QueryRowContext(ctx, `SELECT customer_id FROM users WHERE id = $1`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return current.String, nil
}

// GetUserByCustomerID возвращает пользователя по идентификатору клиента провайдера.
func (s *Storage) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	const op = "storage.GetUserByCustomerID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	u, err := s.scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE customer_id = $1`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
