// Package cart хранит серверную копию корзины под ключом владельца.
// Владелец это авторизованный пользователь либо гость с ключом из заголовка.
package cart

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

const keyPrefix = "cart:"

// UserKey ключ владельца корзины для пользователя.
func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// GuestKey ключ владельца корзины для гостя.
func GuestKey(guestKey string) string {
	return "guest:" + guestKey
}

// Cache хранилище JSON-значений с TTL.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Repository загружает, сохраняет и очищает корзины.
type Repository struct {
	cache Cache
	ttl   time.Duration
}

// NewRepository создаёт репозиторий корзин со сроком хранения ttl.
func NewRepository(cache Cache, ttl time.Duration) *Repository {
	return &Repository{cache: cache, ttl: ttl}
}

// Load возвращает корзину владельца. Отсутствующая корзина считается пустой.
func (r *Repository) Load(ctx context.Context, ownerKey string) ([]models.CartItem, error) {
	const op = "cart.Load"
	var c models.Cart
	found, err := r.cache.Get(ctx, keyPrefix+ownerKey, &c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found || c.Items == nil {
		return []models.CartItem{}, nil
	}
	return c.Items, nil
}

// Save заменяет корзину владельца и продлевает срок её хранения.
func (r *Repository) Save(ctx context.Context, ownerKey string, items []models.CartItem) error {
	const op = "cart.Save"
	if len(items) == 0 {
		return r.Clear(ctx, ownerKey)
	}
	if err := r.cache.Set(ctx, keyPrefix+ownerKey, models.Cart{Items: items}, r.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear удаляет корзину владельца.
func (r *Repository) Clear(ctx context.Context, ownerKey string) error {
	const op = "cart.Clear"
	if err := r.cache.Invalidate(ctx, keyPrefix+ownerKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
