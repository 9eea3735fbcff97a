// Package session хранит серверные сессии пользователей в Redis.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

const keyPrefix = "session:"

// Cache хранилище JSON-значений с TTL.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Store создаёт, читает и удаляет сессии.
type Store struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewStore создаёт хранилище сессий со сроком жизни ttl.
func NewStore(cache Cache, ttl time.Duration) *Store {
	return &Store{cache: cache, ttl: ttl, now: time.Now}
}

// Create открывает новую сессию пользователя.
func (s *Store) Create(ctx context.Context, userID int64, email string) (*models.Session, error) {
	const op = "session.Create"
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.cache.Set(ctx, keyPrefix+sess.ID, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Get возвращает сессию или models.ErrSessionNotFound, если она истекла или удалена.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	const op = "session.Get"
	var sess models.Session
	found, err := s.cache.Get(ctx, keyPrefix+id, &sess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
	}
	return &sess, nil
}

// Delete завершает сессию. Удаление несуществующей сессии не ошибка.
func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "session.Delete"
	if err := s.cache.Invalidate(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
