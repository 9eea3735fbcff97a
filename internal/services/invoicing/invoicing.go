// Package invoicing выставляет счёт на уже оплаченную корзину и сохраняет заказ.
//
// Платёж к этому моменту списан и никогда не откатывается: сбой при выставлении
// счёта или сохранении заказа превращается в предупреждение и задачу сверки.
// Если провайдер недоступен и платёж не удаётся проверить, заказ сохраняется
// в статусе pending без счёта, а проверку повторяет сверка.
package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/agent-marketplace/internal/cart"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/money"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

// WarningInvoiceDelayed текст предупреждения, когда покупка прошла, а счёт или заказ будут досозданы позже.
const WarningInvoiceDelayed = "Payment received. Your invoice is being prepared and will appear in your order history shortly."

// WarningPaymentPending текст предупреждения, когда платёж ещё не удалось проверить у провайдера.
const WarningPaymentPending = "Your payment is being confirmed. The order will be completed in your order history shortly."

// Provider операции провайдера, нужные для выставления счёта.
type Provider interface {
	GetPaymentIntent(ctx context.Context, id string) (*paymentprovider.PaymentIntent, error)
	CreateInvoiceItem(ctx context.Context, req paymentprovider.InvoiceItemRequest) error
	CreateInvoice(ctx context.Context, req paymentprovider.InvoiceRequest) (*paymentprovider.Invoice, error)
	FinalizeInvoice(ctx context.Context, id string) (*paymentprovider.Invoice, error)
	PayInvoiceOutOfBand(ctx context.Context, id string) (*paymentprovider.Invoice, error)
}

// Repository хранилище пользователей и заказов.
type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	CreateOrder(ctx context.Context, order models.Order) (int64, error)
	AttachInvoice(ctx context.Context, orderID int64, invoiceID string) error
	UpdateOrderStatusByPaymentIntent(ctx context.Context, paymentIntentID string, status models.OrderStatus) (int64, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
}

// CustomerResolver выдаёт клиента провайдера для пользователя.
type CustomerResolver interface {
	EnsureCustomer(ctx context.Context, user *models.User) (string, error)
}

// Publisher ставит задачи сверки в очередь.
type Publisher interface {
	PublishReconcile(ctx context.Context, task models.ReconcileTask) error
}

// CartCleaner очищает серверную корзину.
type CartCleaner interface {
	Clear(ctx context.Context, ownerKey string) error
}

// Config параметры счетов.
type Config struct {
	Currency     string
	DaysUntilDue int64
}

// Service сервис выставления счетов.
type Service struct {
	log       *slog.Logger
	provider  Provider
	repo      Repository
	customers CustomerResolver
	publisher Publisher
	carts     CartCleaner
	metrics   *metrics.Metrics
	cfg       Config
}

// New создаёт сервис выставления счетов.
func New(log *slog.Logger, provider Provider, repo Repository, customers CustomerResolver,
	publisher Publisher, carts CartCleaner, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		log:       log,
		provider:  provider,
		repo:      repo,
		customers: customers,
		publisher: publisher,
		carts:     carts,
		metrics:   m,
		cfg:       cfg,
	}
}

// Result итог оформления счёта.
type Result struct {
	OrderID    int64  `json:"orderId,omitempty"`
	InvoiceID  string `json:"invoiceId,omitempty"`
	InvoiceURL string `json:"invoiceUrl,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Existing   bool   `json:"-"`
}

// CreateInvoice выставляет оплаченный вне провайдера счёт на корзину и сохраняет заказ.
// Повторный вызов с тем же платёжным намерением возвращает уже сохранённый заказ.
func (s *Service) CreateInvoice(ctx context.Context, userID int64, items []models.CartItem, paymentIntentID string) (*Result, error) {
	const op = "services.invoicing.CreateInvoice"
	log := s.log.With(sl.Op(op), slog.Int64("user_id", userID), slog.String("payment_intent_id", paymentIntentID))

	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrEmptyCart)
	}
	if paymentIntentID == "" {
		return nil, fmt.Errorf("%s: %w: missing payment intent", op, models.ErrPaymentNotConfirmed)
	}
	totals, err := money.CalculateTotals(items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	amount := totals.TotalMinor()

	existing, err := s.repo.GetOrderByPaymentIntent(ctx, paymentIntentID)
	switch {
	case err == nil:
		log.Info("order already exists for payment intent", slog.Int64("order_id", existing.ID))
		return resultFromOrder(existing), nil
	case !errors.Is(err, models.ErrOrderNotFound):
		log.Warn("failed to look up existing order", sl.Err(err))
	}

	snapshot, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = s.confirmPayment(ctx, userID, paymentIntentID, amount)
	switch {
	case errors.Is(err, models.ErrProviderUnavailable):
		log.Warn("payment intent is not readable, deferring order to reconciliation", sl.Err(err))
		return s.deferOrder(ctx, log, userID, items, paymentIntentID, amount, string(snapshot)), nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &Result{}
	inv, issueErr := s.issue(ctx, userID, items, totals, paymentIntentID)
	if issueErr != nil {
		s.metrics.Invoices.WithLabelValues("failed").Inc()
		log.Error("invoice creation failed after payment", sl.Err(fmt.Errorf("%w: %w", models.ErrInvoiceCreation, issueErr)))
		res.Warning = WarningInvoiceDelayed
	} else {
		s.metrics.Invoices.WithLabelValues("created").Inc()
		res.InvoiceID = inv.ID
		res.InvoiceURL = inv.HostedURL
	}

	order := models.Order{
		UserID:          userID,
		PaymentIntentID: &paymentIntentID,
		Amount:          amount,
		Status:          models.OrderCompleted,
		Items:           string(snapshot),
	}
	if inv != nil {
		order.InvoiceID = &inv.ID
	}

	task := models.ReconcileTask{
		UserID:          userID,
		PaymentIntentID: paymentIntentID,
		Items:           items,
	}

	orderID, err := s.repo.CreateOrder(ctx, order)
	switch {
	case errors.Is(err, models.ErrOrderExists):
		prev, getErr := s.repo.GetOrderByPaymentIntent(ctx, paymentIntentID)
		if getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, getErr)
		}
		log.Info("order saved concurrently", slog.Int64("order_id", prev.ID))
		if prev.InvoiceID == nil && inv != nil {
			if err := s.repo.AttachInvoice(ctx, prev.ID, inv.ID); err != nil && !errors.Is(err, models.ErrOrderNotFound) {
				log.Warn("failed to attach invoice to existing order", sl.Err(err))
			}
		}
		return resultFromOrder(prev), nil
	case err != nil:
		log.Error("failed to save order after payment", sl.Err(err))
		if inv != nil {
			task.InvoiceID = &inv.ID
		}
		task.Reason = "order persistence failed"
		s.enqueue(ctx, log, task)
		res.Warning = WarningInvoiceDelayed
	default:
		res.OrderID = orderID
		if issueErr != nil {
			task.OrderID = &orderID
			task.Reason = "invoice creation failed"
			s.enqueue(ctx, log, task)
		}
	}

	s.clearCart(ctx, log, userID)

	log.Info("checkout completed",
		slog.Int64("order_id", res.OrderID),
		slog.String("invoice_id", res.InvoiceID),
		slog.Bool("warning", res.Warning != ""),
	)
	return res, nil
}

// deferOrder сохраняет заказ без счёта в статусе pending и ставит задачу
// сверки, которая проверит платёж, когда провайдер снова ответит.
func (s *Service) deferOrder(ctx context.Context, log *slog.Logger, userID int64, items []models.CartItem,
	paymentIntentID string, amount int64, snapshot string) *Result {
	task := models.ReconcileTask{
		UserID:          userID,
		PaymentIntentID: paymentIntentID,
		Items:           items,
		Reason:          "payment confirmation pending",
	}
	res := &Result{Warning: WarningPaymentPending}

	orderID, err := s.repo.CreateOrder(ctx, models.Order{
		UserID:          userID,
		PaymentIntentID: &paymentIntentID,
		Amount:          amount,
		Status:          models.OrderPending,
		Items:           snapshot,
	})
	switch {
	case errors.Is(err, models.ErrOrderExists):
		prev, getErr := s.repo.GetOrderByPaymentIntent(ctx, paymentIntentID)
		if getErr == nil {
			return resultFromOrder(prev)
		}
		log.Warn("failed to load concurrently saved order", sl.Err(getErr))
	case err != nil:
		log.Error("failed to save pending order", sl.Err(err))
	default:
		res.OrderID = orderID
		task.OrderID = &orderID
	}
	s.enqueue(ctx, log, task)
	s.clearCart(ctx, log, userID)

	log.Info("checkout deferred", slog.Int64("order_id", res.OrderID))
	return res
}

func (s *Service) clearCart(ctx context.Context, log *slog.Logger, userID int64) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, cart.UserKey(userID)); err != nil {
		log.Warn("failed to clear cart", sl.Err(err))
	}
}

// confirmPayment проверяет, что платёж проведён, принадлежит пользователю и
// покрывает сумму корзины. Недоступность провайдера возвращается как есть
// (ErrProviderUnavailable), любая другая ошибка чтения значит, что платёж не подтверждён.
func (s *Service) confirmPayment(ctx context.Context, userID int64, paymentIntentID string, amount int64) error {
	pi, err := s.provider.GetPaymentIntent(ctx, paymentIntentID)
	if errors.Is(err, models.ErrProviderUnavailable) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentNotConfirmed, err)
	}
	if !pi.Succeeded() {
		return fmt.Errorf("%w: status %s", models.ErrPaymentNotConfirmed, pi.Status)
	}
	if owner := pi.Metadata["user_id"]; owner != "" && owner != strconv.FormatInt(userID, 10) {
		return fmt.Errorf("%w: payment intent belongs to another user", models.ErrPaymentNotConfirmed)
	}
	if pi.AmountMinor != amount {
		return fmt.Errorf("%w: paid %d, cart total %d", models.ErrPaymentNotConfirmed, pi.AmountMinor, amount)
	}
	return nil
}

// issue создаёт клиента, черновик счёта и его строки, финализирует счёт и
// помечает оплаченным вне провайдера.
func (s *Service) issue(ctx context.Context, userID int64, items []models.CartItem, totals money.Totals, paymentIntentID string) (*paymentprovider.Invoice, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.customers.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	inv, err := s.provider.CreateInvoice(ctx, paymentprovider.InvoiceRequest{
		CustomerID:   customerID,
		DaysUntilDue: s.cfg.DaysUntilDue,
		Metadata: map[string]string{
			"user_id":           strconv.FormatInt(userID, 10),
			"payment_intent_id": paymentIntentID,
		},
	})
	if err != nil {
		return nil, err
	}

	// Строки создаются прямо в черновике: при сбое они не попадут в чужой счёт.
	for _, item := range items {
		line, err := money.LineAmount(item)
		if err != nil {
			return nil, err
		}
		err = s.provider.CreateInvoiceItem(ctx, paymentprovider.InvoiceItemRequest{
			CustomerID:  customerID,
			InvoiceID:   inv.ID,
			AmountMinor: money.ToMinor(line),
			Currency:    s.cfg.Currency,
			Description: fmt.Sprintf("%s x %d", itemName(item), item.Quantity),
		})
		if err != nil {
			return nil, err
		}
	}
	if tax := money.ToMinor(totals.Tax); tax > 0 {
		err = s.provider.CreateInvoiceItem(ctx, paymentprovider.InvoiceItemRequest{
			CustomerID:  customerID,
			InvoiceID:   inv.ID,
			AmountMinor: tax,
			Currency:    s.cfg.Currency,
			Description: "Sales tax " + money.TaxRate.Shift(2).String() + "%",
		})
		if err != nil {
			return nil, err
		}
	}

	finalized, err := s.provider.FinalizeInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	paid, err := s.provider.PayInvoiceOutOfBand(ctx, finalized.ID)
	if err != nil {
		return nil, err
	}
	if paid.HostedURL == "" {
		paid.HostedURL = finalized.HostedURL
	}
	return paid, nil
}

func (s *Service) enqueue(ctx context.Context, log *slog.Logger, task models.ReconcileTask) {
	if err := s.publisher.PublishReconcile(ctx, task); err != nil {
		s.metrics.ReconcileTasks.WithLabelValues("publish_failed").Inc()
		log.Error("failed to publish reconcile task", slog.String("reason", task.Reason), sl.Err(err))
		return
	}
	s.metrics.ReconcileTasks.WithLabelValues("published").Inc()
}

// Reconcile досоздаёт счёт и заказ для подтверждённого платежа.
// Ошибка означает, что задачу стоит повторить.
func (s *Service) Reconcile(ctx context.Context, task models.ReconcileTask) error {
	const op = "services.invoicing.Reconcile"
	log := s.log.With(sl.Op(op), slog.Int64("user_id", task.UserID), slog.String("payment_intent_id", task.PaymentIntentID))

	if task.UserID <= 0 || task.PaymentIntentID == "" || len(task.Items) == 0 {
		s.metrics.ReconcileTasks.WithLabelValues("invalid").Inc()
		log.Warn("dropping malformed reconcile task")
		return nil
	}

	totals, err := money.CalculateTotals(task.Items)
	if err != nil {
		s.metrics.ReconcileTasks.WithLabelValues("invalid").Inc()
		log.Warn("dropping reconcile task with invalid cart", sl.Err(err))
		return nil
	}

	order, err := s.repo.GetOrderByPaymentIntent(ctx, task.PaymentIntentID)
	if err != nil && !errors.Is(err, models.ErrOrderNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if order != nil && order.InvoiceID != nil && order.Status != models.OrderPending {
		s.metrics.ReconcileTasks.WithLabelValues("noop").Inc()
		log.Info("order already reconciled", slog.Int64("order_id", order.ID))
		return nil
	}

	// Неподтверждённый платёж: заказ отложен или счёт ещё не выставлялся.
	pending := order != nil && order.Status == models.OrderPending
	if pending || (order == nil && task.InvoiceID == nil) {
		err := s.confirmPayment(ctx, task.UserID, task.PaymentIntentID, totals.TotalMinor())
		switch {
		case errors.Is(err, models.ErrProviderUnavailable):
			s.metrics.ReconcileTasks.WithLabelValues("failed").Inc()
			return fmt.Errorf("%s: %w", op, err)
		case err != nil:
			s.metrics.ReconcileTasks.WithLabelValues("rejected").Inc()
			log.Warn("payment is not confirmed, order will not be completed", sl.Err(err))
			if pending {
				if _, err := s.repo.UpdateOrderStatusByPaymentIntent(ctx, task.PaymentIntentID, models.OrderFailed); err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
			}
			return nil
		}
	}
	if order != nil && order.InvoiceID != nil {
		return s.completePending(ctx, log, order)
	}

	var invoiceID *string
	if task.InvoiceID != nil && *task.InvoiceID != "" {
		invoiceID = task.InvoiceID
	} else {
		inv, err := s.issue(ctx, task.UserID, task.Items, totals, task.PaymentIntentID)
		if err != nil {
			s.metrics.ReconcileTasks.WithLabelValues("failed").Inc()
			return fmt.Errorf("%s: %w: %w", op, models.ErrInvoiceCreation, err)
		}
		s.metrics.Invoices.WithLabelValues("created").Inc()
		invoiceID = &inv.ID
	}

	if order == nil {
		snapshot, err := json.Marshal(task.Items)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		paymentIntentID := task.PaymentIntentID
		orderID, err := s.repo.CreateOrder(ctx, models.Order{
			UserID:          task.UserID,
			InvoiceID:       invoiceID,
			PaymentIntentID: &paymentIntentID,
			Amount:          totals.TotalMinor(),
			Status:          models.OrderCompleted,
			Items:           string(snapshot),
		})
		switch {
		case err == nil:
			s.metrics.ReconcileTasks.WithLabelValues("order_created").Inc()
			log.Info("order created by reconciliation", slog.Int64("order_id", orderID), slog.String("invoice_id", *invoiceID))
			return nil
		case !errors.Is(err, models.ErrOrderExists):
			s.metrics.ReconcileTasks.WithLabelValues("failed").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
		order, err = s.repo.GetOrderByPaymentIntent(ctx, task.PaymentIntentID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	err = s.repo.AttachInvoice(ctx, order.ID, *invoiceID)
	if err != nil && !errors.Is(err, models.ErrOrderNotFound) {
		s.metrics.ReconcileTasks.WithLabelValues("failed").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.ReconcileTasks.WithLabelValues("invoice_attached").Inc()
	log.Info("invoice attached by reconciliation", slog.Int64("order_id", order.ID), slog.String("invoice_id", *invoiceID))
	if order.Status == models.OrderPending {
		return s.completePending(ctx, log, order)
	}
	return nil
}

// completePending переводит отложенный заказ в completed после проверки платежа.
func (s *Service) completePending(ctx context.Context, log *slog.Logger, order *models.Order) error {
	const op = "services.invoicing.completePending"
	if order.Status != models.OrderPending || order.PaymentIntentID == nil {
		return nil
	}
	if _, err := s.repo.UpdateOrderStatusByPaymentIntent(ctx, *order.PaymentIntentID, models.OrderCompleted); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("pending order completed", slog.Int64("order_id", order.ID))
	return nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	const op = "services.invoicing.ListOrders"
	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

func resultFromOrder(o *models.Order) *Result {
	res := &Result{OrderID: o.ID, Existing: true}
	switch {
	case o.Status == models.OrderPending:
		res.Warning = WarningPaymentPending
	case o.InvoiceID != nil:
		res.InvoiceID = *o.InvoiceID
	default:
		res.Warning = WarningInvoiceDelayed
	}
	return res
}

func itemName(item models.CartItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ID
}
