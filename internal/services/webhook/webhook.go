// Package webhook обрабатывает события платёжного провайдера: проверяет
// подпись, ведёт журнал событий и переносит статусы в заказы и подписки.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

// ErrMissingSignature запрос без заголовка подписи.
var ErrMissingSignature = errors.New("missing webhook signature")

// Обрабатываемые типы событий.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventInvoicePaid            = "invoice.paid"
	EventInvoicePaymentFailed   = "invoice.payment_failed"
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
)

// Verifier проверяет подпись и разбирает событие.
type Verifier interface {
	ConstructEvent(payload []byte, signature string) (*paymentprovider.Event, error)
}

// Ledger журнал обработанных событий.
type Ledger interface {
	RecordWebhookEvent(ctx context.Context, providerEventID, eventType string, payload []byte) (int64, bool, error)
	MarkWebhookEventProcessed(ctx context.Context, id int64, processingErr error) error
}

// Orders обновление статусов заказов.
type Orders interface {
	UpdateOrderStatusByPaymentIntent(ctx context.Context, paymentIntentID string, status models.OrderStatus) (int64, error)
	UpdateOrderStatusByInvoice(ctx context.Context, invoiceID string, status models.OrderStatus) (int64, error)
}

// Entitlements обновление подписок.
type Entitlements interface {
	SetSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status models.SubscriptionStatus) (int64, error)
	SyncProviderSubscription(ctx context.Context, sub *paymentprovider.Subscription, deleted bool) (bool, error)
}

// Processor обработчик событий провайдера.
type Processor struct {
	log          *slog.Logger
	verifier     Verifier
	ledger       Ledger
	orders       Orders
	entitlements Entitlements
	metrics      *metrics.Metrics
}

// NewProcessor создаёт обработчик событий.
func NewProcessor(log *slog.Logger, verifier Verifier, ledger Ledger, orders Orders, entitlements Entitlements, m *metrics.Metrics) *Processor {
	return &Processor{
		log:          log,
		verifier:     verifier,
		ledger:       ledger,
		orders:       orders,
		entitlements: entitlements,
		metrics:      m,
	}
}

// Process проверяет и обрабатывает событие. Уже обработанное событие
// подтверждается без повторной обработки, неизвестные типы игнорируются.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) error {
	const op = "services.webhook.Process"

	if strings.TrimSpace(signature) == "" {
		p.metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%s: %w", op, ErrMissingSignature)
	}
	evt, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		p.metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	log := p.log.With(sl.Op(op), slog.String("event_id", evt.ID), slog.String("event_type", evt.Type))

	id, processed, err := p.ledger.RecordWebhookEvent(ctx, evt.ID, evt.Type, payload)
	if err != nil {
		p.metrics.WebhookEvents.WithLabelValues(evt.Type, "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if processed {
		p.metrics.WebhookEvents.WithLabelValues(evt.Type, "duplicate").Inc()
		log.Info("webhook event already processed")
		return nil
	}

	handled, procErr := p.dispatch(ctx, log, evt)
	if err := p.ledger.MarkWebhookEventProcessed(ctx, id, procErr); err != nil {
		log.Error("failed to mark webhook event processed", sl.Err(err))
	}

	switch {
	case procErr != nil:
		p.metrics.WebhookEvents.WithLabelValues(evt.Type, "error").Inc()
		log.Error("webhook event processing failed", sl.Err(procErr))
		return fmt.Errorf("%s: %w", op, procErr)
	case !handled:
		p.metrics.WebhookEvents.WithLabelValues(evt.Type, "ignored").Inc()
		log.Info("webhook event ignored")
	default:
		p.metrics.WebhookEvents.WithLabelValues(evt.Type, "processed").Inc()
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, log *slog.Logger, evt *paymentprovider.Event) (bool, error) {
	switch evt.Type {
	case EventPaymentIntentSucceeded:
		pi, err := paymentprovider.ParsePaymentIntent(evt.Object)
		if err != nil {
			return true, err
		}
		n, err := p.orders.UpdateOrderStatusByPaymentIntent(ctx, pi.ID, models.OrderCompleted)
		if err != nil {
			return true, err
		}
		log.Info("orders completed by payment intent", slog.String("payment_intent_id", pi.ID), slog.Int64("orders", n))
		return true, nil

	case EventInvoicePaid, EventInvoicePaymentFailed:
		inv, err := paymentprovider.ParseInvoice(evt.Object)
		if err != nil {
			return true, err
		}
		orderStatus, subStatus := models.OrderCompleted, models.SubscriptionActive
		if evt.Type == EventInvoicePaymentFailed {
			orderStatus, subStatus = models.OrderFailed, models.SubscriptionPastDue
		}
		n, err := p.orders.UpdateOrderStatusByInvoice(ctx, inv.ID, orderStatus)
		if err != nil {
			return true, err
		}
		log.Info("orders updated by invoice", slog.String("invoice_id", inv.ID),
			slog.String("status", string(orderStatus)), slog.Int64("orders", n))
		if inv.SubscriptionID != "" {
			if _, err := p.entitlements.SetSubscriptionStatus(ctx, inv.SubscriptionID, subStatus); err != nil {
				return true, err
			}
			log.Info("subscription status updated", slog.String("subscription_id", inv.SubscriptionID),
				slog.String("status", string(subStatus)))
		}
		return true, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		sub, err := paymentprovider.ParseSubscription(evt.Object)
		if err != nil {
			return true, err
		}
		if _, err := p.entitlements.SyncProviderSubscription(ctx, sub, evt.Type == EventSubscriptionDeleted); err != nil {
			return true, err
		}
		return true, nil

	default:
		return false, nil
	}
}
