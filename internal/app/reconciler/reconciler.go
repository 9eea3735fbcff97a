// Package reconciler собирает воркер, который досоздаёт счета и заказы
// по задачам из очереди сверки.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/agent-marketplace/internal/config"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/health"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
	"github.com/magabrotheeeer/agent-marketplace/internal/rabbitmq"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/customer"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/invoicing"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/scheduler"
	"github.com/magabrotheeeer/agent-marketplace/internal/storage/repository"
)

// Reconciler обрабатывает одну задачу сверки.
type Reconciler interface {
	Reconcile(ctx context.Context, task models.ReconcileTask) error
}

// App воркер сверки.
type App struct {
	logger     *slog.Logger
	db         *repository.Storage
	conn       *amqp.Connection
	ch         *amqp.Channel
	reconciler Reconciler
	scheduler  *scheduler.Service
	workers    int
	server     *http.Server
}

// New подключает базу и брокер и собирает сервис выставления счетов.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.reconciler.New"

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetBillingQueues(), cfg.RabbitMQ.Workers)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	provider := paymentprovider.NewClient(paymentprovider.Options{
		SecretKey: cfg.Stripe.SecretKey,
		Timeout:   cfg.Stripe.Timeout,
		Logger:    logger,
	})
	publisher := rabbitmq.NewReconcilePublisher(ch)
	// Сверка не трогает корзины: они очищены при оформлении.
	invoices := invoicing.New(logger, provider, db, customer.NewResolver(logger, provider, db),
		publisher, nil, m,
		invoicing.Config{
			Currency:     cfg.Stripe.Currency,
			DaysUntilDue: cfg.Stripe.DaysUntilDue,
		})

	sweeper := scheduler.NewService(db, publisher, logger, scheduler.Config{
		Interval:  cfg.Reconciler.SweepInterval,
		MinAge:    cfg.Reconciler.SweepMinAge,
		BatchSize: cfg.Reconciler.SweepBatchSize,
	})

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", health.New(logger, map[string]health.Pinger{"postgres": db}).ServeHTTP)

	return &App{
		logger:     logger,
		db:         db,
		conn:       conn,
		ch:         ch,
		reconciler: invoices,
		scheduler:  sweeper,
		workers:    cfg.RabbitMQ.Workers,
		server: &http.Server{
			Addr:              cfg.Reconciler.MetricsAddress,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// HandleMessage разбирает задачу и передаёт её на сверку. Нечитаемое
// сообщение отбрасывается: повтор его не исправит.
func HandleMessage(log *slog.Logger, r Reconciler) func(context.Context, []byte) error {
	return func(ctx context.Context, body []byte) error {
		const op = "app.reconciler.HandleMessage"
		var task models.ReconcileTask
		if err := json.Unmarshal(body, &task); err != nil {
			log.Error("dropping unreadable reconcile task", sl.Op(op), sl.Err(err))
			return nil
		}
		if err := r.Reconcile(ctx, task); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
}

// Run потребляет очередь сверки до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.ReconcileQueue, a.workers, HandleMessage(a.logger, a.reconciler))
	if err != nil {
		a.logger.Error("failed to start reconcile consumer", sl.Err(err))
		a.close()
		return err
	}

	go a.scheduler.Run(ctx)

	go func() {
		a.logger.Info("metrics server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	<-ctx.Done()
	a.logger.Info("reconciler shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop metrics server", sl.Err(err))
	}
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
