// Package paymentprovider оборачивает Stripe SDK узким набором операций,
// которые нужны маркетплейсу: платёжные намерения, клиенты, счета,
// подписки и проверка вебхуков.
package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Options настройки клиента.
type Options struct {
	SecretKey         string
	WebhookSecret     string
	Timeout           time.Duration
	BaseURL           string // если пусто, используется боевой API провайдера
	MaxNetworkRetries *int64
	Logger            *slog.Logger
}

// Client клиент Stripe.
type Client struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

// NewClient создаёт клиент Stripe с ограниченным временем ожидания HTTP-запросов.
func NewClient(opts Options) *Client {
	httpClient := &http.Client{Timeout: opts.Timeout}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: opts.MaxNetworkRetries,
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	if opts.Logger != nil {
		cfg.LeveledLogger = &slogLogger{log: opts.Logger.With(slog.String("component", "stripe"))}
	}

	api := &client.API{}
	api.Init(opts.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})

	return &Client{
		api:           api,
		webhookSecret: opts.WebhookSecret,
		timeout:       opts.Timeout,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// CreatePaymentIntent создаёт платёжное намерение с автоматическим выбором способов оплаты.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	const op = "paymentprovider.CreatePaymentIntent"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toPaymentIntent(pi), nil
}

// GetPaymentIntent читает платёжное намерение.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	const op = "paymentprovider.GetPaymentIntent"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toPaymentIntent(pi), nil
}

// CreateCustomer создаёт клиента и возвращает его идентификатор.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	const op = "paymentprovider.CreateCustomer"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{Email: stripe.String(req.Email)}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", wrapError(op, err)
	}
	return cus.ID, nil
}

// CreateInvoiceItem добавляет строку в черновик счёта. Без InvoiceID строка
// повисает на клиенте до его следующего счёта, поэтому такой запрос отклоняется.
func (c *Client) CreateInvoiceItem(ctx context.Context, req InvoiceItemRequest) error {
	const op = "paymentprovider.CreateInvoiceItem"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if req.InvoiceID == "" {
		return fmt.Errorf("%s: invoice id is required", op)
	}
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(req.CustomerID),
		Invoice:     stripe.String(req.InvoiceID),
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if _, err := c.api.InvoiceItems.New(params); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// CreateInvoice создаёт пустой черновик счёта. Ожидающие строки клиента в него
// не попадают. Счёт выставляется без автосписания.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	const op = "paymentprovider.CreateInvoice"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(req.CustomerID),
		AutoAdvance:                 stripe.Bool(false),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(req.DaysUntilDue),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	inv, err := c.api.Invoices.New(params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoice(inv), nil
}

// FinalizeInvoice финализирует черновик счёта.
func (c *Client) FinalizeInvoice(ctx context.Context, id string) (*Invoice, error) {
	const op = "paymentprovider.FinalizeInvoice"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx
	inv, err := c.api.Invoices.FinalizeInvoice(id, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoice(inv), nil
}

// PayInvoiceOutOfBand отмечает счёт оплаченным вне провайдера. Деньги не списываются.
func (c *Client) PayInvoiceOutOfBand(ctx context.Context, id string) (*Invoice, error) {
	const op = "paymentprovider.PayInvoiceOutOfBand"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.InvoicePayParams{PaidOutOfBand: stripe.Bool(true)}
	params.Context = ctx
	inv, err := c.api.Invoices.Pay(id, params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toInvoice(inv), nil
}

// CreateSubscription оформляет подписку клиента на цену с пробным периодом.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	const op = "paymentprovider.CreateSubscription"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
	}
	if req.TrialPeriodDays > 0 {
		params.TrialPeriodDays = stripe.Int64(req.TrialPeriodDays)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return toSubscription(sub), nil
}

// ConstructEvent проверяет подпись вебхука и разбирает событие.
func (c *Client) ConstructEvent(payload []byte, signature string) (*Event, error) {
	const op = "paymentprovider.ConstructEvent"
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	var object json.RawMessage
	if evt.Data != nil {
		object = evt.Data.Raw
	}
	return &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Object:  object,
		Payload: payload,
	}, nil
}

// ParsePaymentIntent разбирает data.object события платёжного намерения.
func ParsePaymentIntent(raw json.RawMessage) (*PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("paymentprovider.ParsePaymentIntent: %w", err)
	}
	return toPaymentIntent(&pi), nil
}

// ParseInvoice разбирает data.object события счёта.
func ParseInvoice(raw json.RawMessage) (*Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("paymentprovider.ParseInvoice: %w", err)
	}
	return toInvoice(&inv), nil
}

// ParseSubscription разбирает data.object события подписки.
func ParseSubscription(raw json.RawMessage) (*Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("paymentprovider.ParseSubscription: %w", err)
	}
	return toSubscription(&sub), nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:        inv.ID,
		Status:    string(inv.Status),
		HostedURL: inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	return out
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := unixTime(sub.TrialEnd)
		out.TrialEnd = &t
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				out.PriceID = item.Price.ID
				break
			}
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// wrapError помечает недоступность провайдера: сетевые ошибки, таймауты и ответы 5xx.
func wrapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %w", op, models.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrProviderUnavailable, err)
}
