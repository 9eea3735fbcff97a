// Package marketplace собирает HTTP-сервис маркетплейса агентов.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/agent-marketplace/internal/cache"
	"github.com/magabrotheeeer/agent-marketplace/internal/cart"
	"github.com/magabrotheeeer/agent-marketplace/internal/catalog"
	"github.com/magabrotheeeer/agent-marketplace/internal/config"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/health"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/jwt"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/password"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/migrations"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
	"github.com/magabrotheeeer/agent-marketplace/internal/rabbitmq"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/auth"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/checkout"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/customer"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/entitlement"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/invoicing"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/webhook"
	"github.com/magabrotheeeer/agent-marketplace/internal/session"
	"github.com/magabrotheeeer/agent-marketplace/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервис со всеми зависимостями.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключает хранилища и брокер, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.marketplace.New"

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		_ = db.Close()
		_ = cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetBillingQueues(), cfg.RabbitMQ.Workers)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		_ = cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	provider := paymentprovider.NewClient(paymentprovider.Options{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
		Logger:        logger,
	})
	cat := catalog.New(cfg.Agents)
	carts := cart.NewRepository(cacheRedis, cfg.CartTTL)
	customers := customer.NewResolver(logger, provider, db)

	authService := auth.NewService(
		logger,
		db,
		session.NewStore(cacheRedis, cfg.TokenTTL),
		password.NewHasher(0),
		jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		cfg.TokenTTL,
		cfg.TrialPeriod,
	)
	entitlements := entitlement.New(logger, db, customers, provider, cat, m, entitlement.Config{
		AdminEmail:      cfg.AdminEmail,
		TrialPeriodDays: cfg.Stripe.TrialPeriodDays,
	})
	invoices := invoicing.New(logger, provider, db, customers, rabbitmq.NewReconcilePublisher(ch), carts, m,
		invoicing.Config{
			Currency:     cfg.Stripe.Currency,
			DaysUntilDue: cfg.Stripe.DaysUntilDue,
		})

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Auth:         authService,
		Entitlements: entitlements,
		Checkout:     checkout.New(logger, provider, carts, m, cfg.Stripe.Currency),
		Invoicing:    invoices,
		Webhooks:     webhook.NewProcessor(logger, provider, db, db, entitlements, m),
		Carts:        carts,
		Health: map[string]health.Pinger{
			"postgres": db,
			"redis":    cacheRedis,
		},
		SecureCookie: cfg.Env != "local",
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем плавно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
