package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/agent-marketplace/internal/cache"
	"github.com/magabrotheeeer/agent-marketplace/internal/config"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

func setupStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewStore(c, ttl), mr
}

func TestStore_CreateGetDelete(t *testing.T) {
	store, _ := setupStore(t, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, 42, "user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "user@example.com", got.Email)

	require.NoError(t, store.Delete(ctx, sess.ID))

	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStore_Expires(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := context.Background()

	sess, err := store.Create(ctx, 1, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+sess.ID))

	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStore_UniqueIDs(t *testing.T) {
	store, _ := setupStore(t, time.Hour)
	ctx := context.Background()

	a, err := store.Create(ctx, 1, "a@example.com")
	require.NoError(t, err)
	b, err := store.Create(ctx, 1, "a@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
