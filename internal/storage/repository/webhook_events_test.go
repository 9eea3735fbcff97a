package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_WebhookEventLedger(t *testing.T) {
	storage := setupTestDatabase(t)
	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	id, processed, err := storage.RecordWebhookEvent(ctx, "evt_1", "invoice.paid", payload)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, storage.MarkWebhookEventProcessed(ctx, id, errors.New("db down")))

	again, processed, err := storage.RecordWebhookEvent(ctx, "evt_1", "invoice.paid", payload)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.False(t, processed, "failed processing must be retried")

	require.NoError(t, storage.MarkWebhookEventProcessed(ctx, id, nil))

	_, processed, err = storage.RecordWebhookEvent(ctx, "evt_1", "invoice.paid", payload)
	require.NoError(t, err)
	assert.True(t, processed)
}
