package repository

import (
	"context"
	"fmt"
)

// RecordWebhookEvent записывает входящее событие провайдера в журнал.
// Повторная доставка того же события обновляет payload и возвращает
// alreadyProcessed=true, если событие уже было успешно обработано.
func (s *Storage) RecordWebhookEvent(ctx context.Context, providerEventID, eventType string, payload []byte) (int64, bool, error) {
	const op = "storage.RecordWebhookEvent"
	if err := checkCtx(ctx, op); err != nil {
		return 0, false, err
	}

	var id int64
	var processed bool
	query := `INSERT INTO webhook_events (provider_event_id, type, payload)
			  VALUES ($1, $2, $3::jsonb)
			  ON CONFLICT (provider_event_id) DO UPDATE
			  SET payload = EXCLUDED.payload
			  RETURNING id, processed_at IS NOT NULL AND processing_error IS NULL`
	if err := s.DB.QueryRowContext(ctx, query, providerEventID, eventType, string(payload)).Scan(&id, &processed); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return id, processed, nil
}

// MarkWebhookEventProcessed отмечает событие обработанным. Непустой
// processingErr сохраняется, и событие будет обработано при повторной доставке.
func (s *Storage) MarkWebhookEventProcessed(ctx context.Context, id int64, processingErr error) error {
	const op = "storage.MarkWebhookEventProcessed"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	var errText *string
	if processingErr != nil {
		msg := processingErr.Error()
		errText = &msg
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE webhook_events
			  SET processed_at = NOW(), processing_error = $2
			  WHERE id = $1`, id, errText); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
