package invoicing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetPaymentIntent(ctx context.Context, id string) (*paymentprovider.PaymentIntent, error) {
	args := m.Called(ctx, id)
	pi, _ := args.Get(0).(*paymentprovider.PaymentIntent)
	return pi, args.Error(1)
}

func (m *MockProvider) CreateInvoiceItem(ctx context.Context, req paymentprovider.InvoiceItemRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockProvider) CreateInvoice(ctx context.Context, req paymentprovider.InvoiceRequest) (*paymentprovider.Invoice, error) {
	args := m.Called(ctx, req)
	inv, _ := args.Get(0).(*paymentprovider.Invoice)
	return inv, args.Error(1)
}

func (m *MockProvider) FinalizeInvoice(ctx context.Context, id string) (*paymentprovider.Invoice, error) {
	args := m.Called(ctx, id)
	inv, _ := args.Get(0).(*paymentprovider.Invoice)
	return inv, args.Error(1)
}

func (m *MockProvider) PayInvoiceOutOfBand(ctx context.Context, id string) (*paymentprovider.Invoice, error) {
	args := m.Called(ctx, id)
	inv, _ := args.Get(0).(*paymentprovider.Invoice)
	return inv, args.Error(1)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *MockRepository) GetOrderByPaymentIntent(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) CreateOrder(ctx context.Context, order models.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) AttachInvoice(ctx context.Context, orderID int64, invoiceID string) error {
	return m.Called(ctx, orderID, invoiceID).Error(0)
}

func (m *MockRepository) UpdateOrderStatusByPaymentIntent(ctx context.Context, id string, status models.OrderStatus) (int64, error) {
	args := m.Called(ctx, id, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	args := m.Called(ctx, userID)
	orders, _ := args.Get(0).([]models.Order)
	return orders, args.Error(1)
}

type MockCustomers struct {
	mock.Mock
}

func (m *MockCustomers) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishReconcile(ctx context.Context, task models.ReconcileTask) error {
	return m.Called(ctx, task).Error(0)
}

type MockCarts struct {
	mock.Mock
}

func (m *MockCarts) Clear(ctx context.Context, ownerKey string) error {
	return m.Called(ctx, ownerKey).Error(0)
}

type mocks struct {
	provider  *MockProvider
	repo      *MockRepository
	customers *MockCustomers
	publisher *MockPublisher
	carts     *MockCarts
}

func newMocks() *mocks {
	return &mocks{
		provider:  new(MockProvider),
		repo:      new(MockRepository),
		customers: new(MockCustomers),
		publisher: new(MockPublisher),
		carts:     new(MockCarts),
	}
}

func (m *mocks) service() *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, m.provider, m.repo, m.customers, m.publisher, m.carts, metrics.NewNoop(),
		Config{Currency: "usd", DaysUntilDue: 30})
}

func (m *mocks) assert(t *testing.T) {
	m.provider.AssertExpectations(t)
	m.repo.AssertExpectations(t)
	m.customers.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
	m.carts.AssertExpectations(t)
}

var (
	user  = &models.User{ID: 5, Email: "buyer@example.com"}
	items = []models.CartItem{
		{ID: "sop-assistant", Name: "SOP Assistant", Price: "29.00", Quantity: 1},
		{ID: "crisp-write", Name: "CrispWrite", Price: "24.00", Quantity: 2},
	}
	// 77.00 + 5.39
	totalMinor int64 = 8239
)

func (m *mocks) expectSucceededPayment() {
	m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").Return(&paymentprovider.PaymentIntent{
		ID: "pi_1", Status: "succeeded", AmountMinor: totalMinor, Metadata: map[string]string{"user_id": "5"},
	}, nil).Once()
}

func (m *mocks) expectDraftInvoice() {
	m.repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
	m.customers.On("EnsureCustomer", mock.Anything, user).Return("cus_5", nil).Once()
	m.provider.On("CreateInvoice", mock.Anything, paymentprovider.InvoiceRequest{
		CustomerID:   "cus_5",
		DaysUntilDue: 30,
		Metadata:     map[string]string{"user_id": "5", "payment_intent_id": "pi_1"},
	}).Return(&paymentprovider.Invoice{ID: "in_1", Status: "draft"}, nil).Once()
}

func invoiceItem(amount int64, description string) paymentprovider.InvoiceItemRequest {
	return paymentprovider.InvoiceItemRequest{
		CustomerID:  "cus_5",
		InvoiceID:   "in_1",
		AmountMinor: amount,
		Currency:    "usd",
		Description: description,
	}
}

func (m *mocks) expectInvoice() {
	m.expectDraftInvoice()
	m.provider.On("CreateInvoiceItem", mock.Anything, invoiceItem(2900, "SOP Assistant x 1")).Return(nil).Once()
	m.provider.On("CreateInvoiceItem", mock.Anything, invoiceItem(4800, "CrispWrite x 2")).Return(nil).Once()
	m.provider.On("CreateInvoiceItem", mock.Anything, invoiceItem(539, "Sales tax 7%")).Return(nil).Once()
	m.provider.On("FinalizeInvoice", mock.Anything, "in_1").
		Return(&paymentprovider.Invoice{ID: "in_1", Status: "open", HostedURL: "https://invoice/in_1"}, nil).Once()
	m.provider.On("PayInvoiceOutOfBand", mock.Anything, "in_1").
		Return(&paymentprovider.Invoice{ID: "in_1", Status: "paid"}, nil).Once()
}

func orderMatches(invoiceID *string) any {
	return orderWithStatus(models.OrderCompleted, invoiceID)
}

func orderWithStatus(status models.OrderStatus, invoiceID *string) any {
	return mock.MatchedBy(func(o models.Order) bool {
		if o.UserID != 5 || o.Amount != totalMinor || o.Status != status {
			return false
		}
		if o.PaymentIntentID == nil || *o.PaymentIntentID != "pi_1" {
			return false
		}
		got, err := o.CartItems()
		if err != nil || len(got) != len(items) || got[1] != items[1] {
			return false
		}
		if invoiceID == nil {
			return o.InvoiceID == nil
		}
		return o.InvoiceID != nil && *o.InvoiceID == *invoiceID
	})
}

func strPtr(s string) *string { return &s }

func TestService_CreateInvoice_Success(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.expectSucceededPayment()
	m.expectInvoice()
	m.repo.On("CreateOrder", mock.Anything, orderMatches(strPtr("in_1"))).Return(int64(100), nil).Once()
	m.carts.On("Clear", mock.Anything, "user:5").Return(nil).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, &Result{OrderID: 100, InvoiceID: "in_1", InvoiceURL: "https://invoice/in_1"}, res)
	m.assert(t)
}

func TestService_CreateInvoice_ProviderFailureStillSavesOrder(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.expectSucceededPayment()
	m.repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
	m.customers.On("EnsureCustomer", mock.Anything, user).Return("", errors.New("stripe down")).Once()
	m.repo.On("CreateOrder", mock.Anything, orderMatches(nil)).Return(int64(101), nil).Once()
	m.publisher.On("PublishReconcile", mock.Anything, mock.MatchedBy(func(task models.ReconcileTask) bool {
		return task.OrderID != nil && *task.OrderID == 101 && task.InvoiceID == nil && task.PaymentIntentID == "pi_1"
	})).Return(nil).Once()
	m.carts.On("Clear", mock.Anything, "user:5").Return(nil).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(101), res.OrderID)
	assert.Empty(t, res.InvoiceID)
	assert.Equal(t, WarningInvoiceDelayed, res.Warning)
	m.assert(t)
}

func TestService_CreateInvoice_OrderFailurePublishesInvoice(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.expectSucceededPayment()
	m.expectInvoice()
	m.repo.On("CreateOrder", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()
	m.publisher.On("PublishReconcile", mock.Anything, mock.MatchedBy(func(task models.ReconcileTask) bool {
		return task.OrderID == nil && task.InvoiceID != nil && *task.InvoiceID == "in_1"
	})).Return(errors.New("broker down")).Once()
	m.carts.On("Clear", mock.Anything, "user:5").Return(errors.New("redis down")).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Zero(t, res.OrderID)
	assert.Equal(t, "in_1", res.InvoiceID)
	assert.Equal(t, WarningInvoiceDelayed, res.Warning)
	m.assert(t)
}

func TestService_CreateInvoice_ExistingOrder(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").
		Return(&models.Order{ID: 7, InvoiceID: strPtr("in_7")}, nil).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.OrderID)
	assert.Equal(t, "in_7", res.InvoiceID)
	assert.True(t, res.Existing)
	m.assert(t)
}

func TestService_CreateInvoice_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		items   []models.CartItem
		pi      *paymentprovider.PaymentIntent
		piErr   error
		wantErr error
	}{
		{name: "empty cart", wantErr: models.ErrEmptyCart},
		{
			name:    "unknown payment intent",
			items:   items,
			piErr:   errors.New("paymentprovider.GetPaymentIntent: No such payment_intent: 'pi_1'"),
			wantErr: models.ErrPaymentNotConfirmed,
		},
		{
			name:    "not succeeded",
			items:   items,
			pi:      &paymentprovider.PaymentIntent{ID: "pi_1", Status: "requires_payment_method", AmountMinor: totalMinor},
			wantErr: models.ErrPaymentNotConfirmed,
		},
		{
			name:    "other user",
			items:   items,
			pi:      &paymentprovider.PaymentIntent{ID: "pi_1", Status: "succeeded", AmountMinor: totalMinor, Metadata: map[string]string{"user_id": "6"}},
			wantErr: models.ErrPaymentNotConfirmed,
		},
		{
			name:    "amount mismatch",
			items:   items,
			pi:      &paymentprovider.PaymentIntent{ID: "pi_1", Status: "succeeded", AmountMinor: 100, Metadata: map[string]string{"user_id": "5"}},
			wantErr: models.ErrPaymentNotConfirmed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			if tt.pi != nil || tt.piErr != nil {
				m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
				m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").Return(tt.pi, tt.piErr).Once()
			}

			res, err := m.service().CreateInvoice(context.Background(), 5, tt.items, "pi_1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			m.assert(t)
		})
	}
}

func TestService_CreateInvoice_ProviderOutageDefersOrder(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").
		Return(nil, fmt.Errorf("paymentprovider.GetPaymentIntent: %w", models.ErrProviderUnavailable)).Once()
	m.repo.On("CreateOrder", mock.Anything, orderWithStatus(models.OrderPending, nil)).Return(int64(102), nil).Once()
	m.publisher.On("PublishReconcile", mock.Anything, mock.MatchedBy(func(task models.ReconcileTask) bool {
		return task.OrderID != nil && *task.OrderID == 102 && task.InvoiceID == nil && task.PaymentIntentID == "pi_1"
	})).Return(nil).Once()
	m.carts.On("Clear", mock.Anything, "user:5").Return(nil).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, &Result{OrderID: 102, Warning: WarningPaymentPending}, res)
	m.provider.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	m.assert(t)
}

func TestService_CreateInvoice_UnknownPaymentIntentCreatesNothing(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").
		Return(nil, errors.New("paymentprovider.GetPaymentIntent: No such payment_intent: 'pi_1'")).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	assert.ErrorIs(t, err, models.ErrPaymentNotConfirmed)
	assert.NotErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Nil(t, res)
	m.repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	m.provider.AssertNotCalled(t, "PayInvoiceOutOfBand", mock.Anything, mock.Anything)
	m.assert(t)
}

func TestService_CreateInvoice_ItemFailureKeepsLinesOnDraft(t *testing.T) {
	m := newMocks()
	m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
	m.expectSucceededPayment()
	m.expectDraftInvoice()
	m.provider.On("CreateInvoiceItem", mock.Anything, invoiceItem(2900, "SOP Assistant x 1")).Return(nil).Once()
	m.provider.On("CreateInvoiceItem", mock.Anything, invoiceItem(4800, "CrispWrite x 2")).
		Return(models.ErrProviderUnavailable).Once()
	m.repo.On("CreateOrder", mock.Anything, orderMatches(nil)).Return(int64(104), nil).Once()
	m.publisher.On("PublishReconcile", mock.Anything, mock.Anything).Return(nil).Once()
	m.carts.On("Clear", mock.Anything, "user:5").Return(nil).Once()

	res, err := m.service().CreateInvoice(context.Background(), 5, items, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, WarningInvoiceDelayed, res.Warning)

	for _, call := range m.provider.Calls {
		if call.Method == "CreateInvoiceItem" {
			req := call.Arguments.Get(1).(paymentprovider.InvoiceItemRequest)
			assert.Equal(t, "in_1", req.InvoiceID)
		}
	}
	m.provider.AssertNotCalled(t, "FinalizeInvoice", mock.Anything, mock.Anything)
	m.assert(t)
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches new invoice to order", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(&models.Order{ID: 101}, nil).Once()
		m.expectInvoice()
		m.repo.On("AttachInvoice", mock.Anything, int64(101), "in_1").Return(nil).Once()

		orderID := int64(101)
		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items, OrderID: &orderID})
		require.NoError(t, err)
		m.assert(t)
	})

	t.Run("creates missing order with known invoice", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
		m.repo.On("CreateOrder", mock.Anything, orderMatches(strPtr("in_9"))).Return(int64(103), nil).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items, InvoiceID: strPtr("in_9")})
		require.NoError(t, err)
		m.assert(t)
	})

	t.Run("already reconciled", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").
			Return(&models.Order{ID: 101, InvoiceID: strPtr("in_1")}, nil).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items})
		require.NoError(t, err)
		m.assert(t)
	})

	t.Run("provider failure is retried", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(&models.Order{ID: 101}, nil).Once()
		m.repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
		m.customers.On("EnsureCustomer", mock.Anything, user).Return("", models.ErrProviderUnavailable).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items})
		assert.ErrorIs(t, err, models.ErrInvoiceCreation)
		m.assert(t)
	})

	t.Run("deferred order is completed once payment is confirmed", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").
			Return(&models.Order{ID: 102, Status: models.OrderPending, PaymentIntentID: strPtr("pi_1")}, nil).Once()
		m.expectSucceededPayment()
		m.expectInvoice()
		m.repo.On("AttachInvoice", mock.Anything, int64(102), "in_1").Return(nil).Once()
		m.repo.On("UpdateOrderStatusByPaymentIntent", mock.Anything, "pi_1", models.OrderCompleted).Return(int64(1), nil).Once()

		orderID := int64(102)
		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items, OrderID: &orderID})
		require.NoError(t, err)
		m.assert(t)
	})

	t.Run("deferred order fails when payment is not confirmed", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").
			Return(&models.Order{ID: 102, Status: models.OrderPending, PaymentIntentID: strPtr("pi_1")}, nil).Once()
		m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").
			Return(nil, errors.New("No such payment_intent: 'pi_1'")).Once()
		m.repo.On("UpdateOrderStatusByPaymentIntent", mock.Anything, "pi_1", models.OrderFailed).Return(int64(1), nil).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items})
		require.NoError(t, err)
		m.provider.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
		m.assert(t)
	})

	t.Run("deferred order waits while provider is down", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").
			Return(&models.Order{ID: 102, Status: models.OrderPending, PaymentIntentID: strPtr("pi_1")}, nil).Once()
		m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrProviderUnavailable).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items})
		assert.ErrorIs(t, err, models.ErrProviderUnavailable)
		m.assert(t)
	})

	t.Run("missing order without invoice checks payment first", func(t *testing.T) {
		m := newMocks()
		m.repo.On("GetOrderByPaymentIntent", mock.Anything, "pi_1").Return(nil, models.ErrOrderNotFound).Once()
		m.provider.On("GetPaymentIntent", mock.Anything, "pi_1").Return(&paymentprovider.PaymentIntent{
			ID: "pi_1", Status: "requires_payment_method", AmountMinor: totalMinor,
		}, nil).Once()

		err := m.service().Reconcile(ctx, models.ReconcileTask{UserID: 5, PaymentIntentID: "pi_1", Items: items})
		require.NoError(t, err)
		m.repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		m.assert(t)
	})

	t.Run("malformed task is dropped", func(t *testing.T) {
		m := newMocks()
		require.NoError(t, m.service().Reconcile(ctx, models.ReconcileTask{PaymentIntentID: "pi_1"}))
		m.assert(t)
	})
}
