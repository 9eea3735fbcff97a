package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

const subscriptionColumns = `id, user_id, agent_id, provider_subscription_id, status, price_id,
	current_period_start, current_period_end, trial_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.AgentSubscription, error) {
	sub := &models.AgentSubscription{}
	var status string
	var trialEnd sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.AgentID, &sub.ProviderSubscriptionID, &status, &sub.PriceID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &trialEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	if trialEnd.Valid {
		sub.TrialEnd = &trialEnd.Time
	}
	return sub, nil
}

// CreateSubscription сохраняет подписку на агента и возвращает её ID.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error) {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	var id int64
	query := `INSERT INTO agent_subscriptions (user_id, agent_id, provider_subscription_id, status, price_id,
			      current_period_start, current_period_end, trial_end)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id`
	if err := s.DB.QueryRowContext(ctx, query, sub.UserID, sub.AgentID, sub.ProviderSubscriptionID, string(sub.Status),
		sub.PriceID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// UpdateSubscription обновляет изменяемые поля подписки по её ID.
func (s *Storage) UpdateSubscription(ctx context.Context, sub models.AgentSubscription) error {
	const op = "storage.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE agent_subscriptions
			  SET status = $2, price_id = $3, current_period_start = $4, current_period_end = $5,
			      trial_end = $6, updated_at = NOW()
			  WHERE id = $1`
	res, err := s.DB.ExecContext(ctx, query, sub.ID, string(sub.Status), sub.PriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrSubscriptionNotFound)
	}
	return nil
}

// UpsertSubscription создаёт подписку или обновляет существующую с тем же
// идентификатором у провайдера. Владелец и агент существующей записи не меняются.
func (s *Storage) UpsertSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error) {
	const op = "storage.UpsertSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	var id int64
	query := `INSERT INTO agent_subscriptions (user_id, agent_id, provider_subscription_id, status, price_id,
			      current_period_start, current_period_end, trial_end)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (provider_subscription_id) DO UPDATE
			  SET status = EXCLUDED.status,
			      price_id = EXCLUDED.price_id,
			      current_period_start = EXCLUDED.current_period_start,
			      current_period_end = EXCLUDED.current_period_end,
			      trial_end = EXCLUDED.trial_end,
			      updated_at = NOW()
			  RETURNING id`
	if err := s.DB.QueryRowContext(ctx, query, sub.UserID, sub.AgentID, sub.ProviderSubscriptionID, string(sub.Status),
		sub.PriceID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetSubscriptionByProviderID возвращает подписку по идентификатору у провайдера.
func (s *Storage) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.AgentSubscription, error) {
	const op = "storage.GetSubscriptionByProviderID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM agent_subscriptions WHERE provider_subscription_id = $1`, providerSubscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSubscriptionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSubscriptions возвращает все подписки пользователя на агента.
func (s *Storage) ListSubscriptions(ctx context.Context, userID int64, agentID string) ([]models.AgentSubscription, error) {
	const op = "storage.ListSubscriptions"
	return s.listSubscriptions(ctx, op,
		`SELECT `+subscriptionColumns+` FROM agent_subscriptions WHERE user_id = $1 AND agent_id = $2 ORDER BY id`,
		userID, agentID)
}

// ListUserSubscriptions возвращает все подписки пользователя.
func (s *Storage) ListUserSubscriptions(ctx context.Context, userID int64) ([]models.AgentSubscription, error) {
	const op = "storage.ListUserSubscriptions"
	return s.listSubscriptions(ctx, op,
		`SELECT `+subscriptionColumns+` FROM agent_subscriptions WHERE user_id = $1 ORDER BY id`,
		userID)
}

func (s *Storage) listSubscriptions(ctx context.Context, op, query string, args ...any) ([]models.AgentSubscription, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := []models.AgentSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateSubscriptionStatus меняет статус подписки по идентификатору у провайдера
// и возвращает число затронутых записей.
func (s *Storage) UpdateSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status models.SubscriptionStatus) (int64, error) {
	const op = "storage.UpdateSubscriptionStatus"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE agent_subscriptions SET status = $2, updated_at = NOW()
			  WHERE provider_subscription_id = $1`, providerSubscriptionID, string(status))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}
