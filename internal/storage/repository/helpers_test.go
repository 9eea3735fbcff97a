package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/agent-marketplace/internal/migrations"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	path, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, path))
	require.NoError(t, storage.CheckDatabaseReady(ctx))

	return storage
}

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает тестового пользователя без пробного периода
func (f *TestDataFactory) CreateUser(t *testing.T, email string) int64 {
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO users (email, password_hash) VALUES ($1, 'hash') RETURNING id`, email).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateSubscription создает тестовую подписку на агента
func (f *TestDataFactory) CreateSubscription(t *testing.T, userID int64, agentID, providerID string, status models.SubscriptionStatus) int64 {
	now := time.Now().UTC().Truncate(time.Second)
	id, err := f.storage.CreateSubscription(context.Background(), models.AgentSubscription{
		UserID:                 userID,
		AgentID:                agentID,
		ProviderSubscriptionID: providerID,
		Status:                 status,
		PriceID:                "price_" + agentID,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	return id
}

// CreateOrder создает тестовый заказ
func (f *TestDataFactory) CreateOrder(t *testing.T, userID int64, paymentIntentID, invoiceID *string, amount int64) int64 {
	id, err := f.storage.CreateOrder(context.Background(), models.Order{
		UserID:          userID,
		InvoiceID:       invoiceID,
		PaymentIntentID: paymentIntentID,
		Amount:          amount,
		Status:          models.OrderCompleted,
		Items:           `[]`,
	})
	require.NoError(t, err)
	return id
}

func strPtr(s string) *string {
	return &s
}
