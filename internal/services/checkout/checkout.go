// Package checkout считает корзину и создаёт платёжное намерение у провайдера.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/money"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

// MaxMetadataValue ограничение провайдера на длину значения метаданных.
const MaxMetadataValue = 500

// Provider создаёт платёжные намерения.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req paymentprovider.PaymentIntentRequest) (*paymentprovider.PaymentIntent, error)
}

// CartLoader читает серверную копию корзины.
type CartLoader interface {
	Load(ctx context.Context, ownerKey string) ([]models.CartItem, error)
}

// Service сервис оформления покупки.
type Service struct {
	log      *slog.Logger
	provider Provider
	carts    CartLoader
	metrics  *metrics.Metrics
	currency string
}

// New создаёт сервис оформления покупки.
func New(log *slog.Logger, provider Provider, carts CartLoader, m *metrics.Metrics, currency string) *Service {
	return &Service{
		log:      log,
		provider: provider,
		carts:    carts,
		metrics:  m,
		currency: currency,
	}
}

// Quote итог корзины для отображения.
type Quote struct {
	Items    []models.CartItem `json:"items"`
	Subtotal string            `json:"subtotal"`
	Tax      string            `json:"tax"`
	Total    string            `json:"total"`
}

// PaymentIntent результат создания платёжного намерения.
type PaymentIntent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Subtotal        string `json:"subtotal"`
	Tax             string `json:"tax"`
	Total           string `json:"total"`
	AmountMinor     int64  `json:"amount"`
}

// Totals считает подытог, налог и итог корзины.
func (s *Service) Totals(items []models.CartItem) (money.Totals, error) {
	const op = "services.checkout.Totals"
	totals, err := money.CalculateTotals(items)
	if err != nil {
		return money.Totals{}, fmt.Errorf("%s: %w", op, err)
	}
	return totals, nil
}

// CreatePaymentIntent создаёт платёжное намерение на итог корзины.
// Вызов провайдера не повторяется: повтор мог бы создать второе намерение.
func (s *Service) CreatePaymentIntent(ctx context.Context, principal *models.Principal, items []models.CartItem) (*PaymentIntent, error) {
	const op = "services.checkout.CreatePaymentIntent"

	if principal == nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotAuthenticated)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrEmptyCart)
	}
	log := s.log.With(sl.Op(op), slog.Int64("user_id", principal.UserID))

	totals, err := s.Totals(items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	amount := totals.TotalMinor()
	if amount < money.MinChargeMinor {
		return nil, fmt.Errorf("%s: %w: %d", op, models.ErrAmountTooSmall, amount)
	}

	metadata, err := cartMetadata(principal.UserID, items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pi, err := s.provider.CreatePaymentIntent(ctx, paymentprovider.PaymentIntentRequest{
		AmountMinor: amount,
		Currency:    s.currency,
		Metadata:    metadata,
	})
	if err != nil {
		s.metrics.PaymentIntents.WithLabelValues("error").Inc()
		log.Error("failed to create payment intent", slog.Int64("amount", amount), sl.Err(err))
		if errors.Is(err, models.ErrProviderUnavailable) {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrPaymentIntentCreation, err)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrPaymentIntentCreation, err)
	}

	s.metrics.PaymentIntents.WithLabelValues("created").Inc()
	s.metrics.CheckoutAmountMinor.Add(float64(amount))
	log.Info("payment intent created", slog.String("payment_intent_id", pi.ID), slog.Int64("amount", amount))

	return &PaymentIntent{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		Subtotal:        money.Format(totals.Subtotal),
		Tax:             money.Format(totals.Tax),
		Total:           money.Format(totals.Total),
		AmountMinor:     amount,
	}, nil
}

// Quote считает итог серверной корзины владельца.
func (s *Service) Quote(ctx context.Context, ownerKey string) (*Quote, error) {
	const op = "services.checkout.Quote"
	items, err := s.carts.Load(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	totals, err := s.Totals(items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Quote{
		Items:    items,
		Subtotal: money.Format(totals.Subtotal),
		Tax:      money.Format(totals.Tax),
		Total:    money.Format(totals.Total),
	}, nil
}

// cartMetadata собирает метаданные платежа. Снимок корзины, не влезающий
// в ограничение провайдера, заменяется числом позиций.
func cartMetadata(userID int64, items []models.CartItem) (map[string]string, error) {
	snapshot, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	metadata := map[string]string{"user_id": strconv.FormatInt(userID, 10)}
	if len(snapshot) <= MaxMetadataValue {
		metadata["cart_items"] = string(snapshot)
		return metadata, nil
	}
	metadata["cart_item_count"] = strconv.Itoa(len(items))
	metadata["cart_items_truncated"] = "true"
	return metadata, nil
}
