package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

const orderColumns = `id, user_id, invoice_id, payment_intent_id, amount, status, items, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	o := &models.Order{}
	var invoiceID, paymentIntentID sql.NullString
	var status string
	if err := row.Scan(&o.ID, &o.UserID, &invoiceID, &paymentIntentID, &o.Amount, &status, &o.Items, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	if invoiceID.Valid {
		o.InvoiceID = &invoiceID.String
	}
	if paymentIntentID.Valid {
		o.PaymentIntentID = &paymentIntentID.String
	}
	return o, nil
}

// CreateOrder сохраняет заказ и возвращает его ID. Второй заказ на тот же
// платёж возвращает models.ErrOrderExists.
func (s *Storage) CreateOrder(ctx context.Context, order models.Order) (int64, error) {
	const op = "storage.CreateOrder"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	var id int64
	query := `INSERT INTO orders (user_id, invoice_id, payment_intent_id, amount, status, items)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	err := s.DB.QueryRowContext(ctx, query, order.UserID, order.InvoiceID, order.PaymentIntentID,
		order.Amount, string(order.Status), order.Items).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%s: %w", op, models.ErrOrderExists)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetOrderByPaymentIntent возвращает заказ, созданный по платежу.
func (s *Storage) GetOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	const op = "storage.GetOrderByPaymentIntent"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	o, err := scanOrder(s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, paymentIntentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (s *Storage) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	const op = "storage.ListOrdersByUser"
	return s.listOrders(ctx, op,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

// ListOrdersWithoutInvoice возвращает оплаченные и отложенные (pending) заказы
// без счёта, созданные раньше createdBefore, старые первыми.
func (s *Storage) ListOrdersWithoutInvoice(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	const op = "storage.ListOrdersWithoutInvoice"
	return s.listOrders(ctx, op,
		`SELECT `+orderColumns+` FROM orders
		 WHERE invoice_id IS NULL AND payment_intent_id IS NOT NULL AND status IN ($1, $2) AND created_at < $3
		 ORDER BY created_at, id
		 LIMIT $4`, string(models.OrderCompleted), string(models.OrderPending), createdBefore, limit)
}

func (s *Storage) listOrders(ctx context.Context, op, query string, args ...any) ([]models.Order, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateOrderStatusByPaymentIntent меняет статус заказов по платежу.
func (s *Storage) UpdateOrderStatusByPaymentIntent(ctx context.Context, paymentIntentID string, status models.OrderStatus) (int64, error) {
	const op = "storage.UpdateOrderStatusByPaymentIntent"
	return s.execAffected(ctx, op, `UPDATE orders SET status = $2 WHERE payment_intent_id = $1`, paymentIntentID, string(status))
}

// UpdateOrderStatusByInvoice меняет статус заказов по счёту.
func (s *Storage) UpdateOrderStatusByInvoice(ctx context.Context, invoiceID string, status models.OrderStatus) (int64, error) {
	const op = "storage.UpdateOrderStatusByInvoice"
	return s.execAffected(ctx, op, `UPDATE orders SET status = $2 WHERE invoice_id = $1`, invoiceID, string(status))
}

// AttachInvoice привязывает счёт к заказу, у которого счёта ещё нет.
func (s *Storage) AttachInvoice(ctx context.Context, orderID int64, invoiceID string) error {
	const op = "storage.AttachInvoice"
	affected, err := s.execAffected(ctx, op,
		`UPDATE orders SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`, orderID, invoiceID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrOrderNotFound)
	}
	return nil
}

func (s *Storage) execAffected(ctx context.Context, op, query string, args ...any) (int64, error) {
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}
