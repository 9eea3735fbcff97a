// Package customer находит или создаёт клиента платёжного провайдера для пользователя.
package customer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

// Provider создаёт клиентов у провайдера.
type Provider interface {
	CreateCustomer(ctx context.Context, req paymentprovider.CustomerRequest) (string, error)
}

// Repository сохраняет привязку клиента к пользователю.
type Repository interface {
	SetCustomerID(ctx context.Context, userID int64, customerID string) (string, error)
}

// Resolver выдаёт идентификатор клиента провайдера для пользователя.
type Resolver struct {
	log      *slog.Logger
	provider Provider
	repo     Repository
}

// NewResolver создаёт Resolver.
func NewResolver(log *slog.Logger, provider Provider, repo Repository) *Resolver {
	return &Resolver{log: log, provider: provider, repo: repo}
}

// EnsureCustomer возвращает сохранённого клиента пользователя или создаёт нового.
// Создание не атомарно: при гонке у провайдера может появиться лишний клиент,
// но к пользователю привязывается только первый.
func (r *Resolver) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	const op = "services.customer.EnsureCustomer"
	if user.CustomerID != nil && *user.CustomerID != "" {
		return *user.CustomerID, nil
	}

	req := paymentprovider.CustomerRequest{
		Email:    user.Email,
		Metadata: map[string]string{"user_id": strconv.FormatInt(user.ID, 10)},
	}
	if user.Name != nil {
		req.Name = *user.Name
	}
	created, err := r.provider.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	current, err := r.repo.SetCustomerID(ctx, user.ID, created)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if current != created {
		r.log.Warn("provider customer created concurrently, keeping the first one",
			sl.Op(op), slog.Int64("user_id", user.ID),
			slog.String("kept", current), slog.String("orphaned", created))
	}
	user.CustomerID = &current
	return current, nil
}
