// Package scheduler периодически ищет оплаченные и отложенные заказы без счёта и ставит
// для них задачи сверки. Покрывает случай, когда задача не была опубликована
// в момент оформления.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// ReasonSweep причина задачи, найденной планировщиком.
const ReasonSweep = "sweep"

// OrderRepository ищет заказы без счёта.
type OrderRepository interface {
	ListOrdersWithoutInvoice(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

// Publisher ставит задачи сверки.
type Publisher interface {
	PublishReconcile(ctx context.Context, task models.ReconcileTask) error
}

// Config параметры обхода.
type Config struct {
	Interval  time.Duration
	MinAge    time.Duration // моложе не трогаем: оформление ещё может идти
	BatchSize int
}

// Service планировщик сверки.
type Service struct {
	repo      OrderRepository
	publisher Publisher
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(repo OrderRepository, publisher Publisher, log *slog.Logger, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run обходит заказы сразу и затем каждые Interval до отмены ctx.
func (s *Service) Run(ctx context.Context) {
	s.SweepOrdersWithoutInvoice(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOrdersWithoutInvoice(ctx)
		}
	}
}

// SweepOrdersWithoutInvoice публикует задачу сверки на каждый найденный заказ
// и возвращает число опубликованных задач.
func (s *Service) SweepOrdersWithoutInvoice(ctx context.Context) int {
	const op = "services.scheduler.SweepOrdersWithoutInvoice"
	log := s.log.With(sl.Op(op))

	orders, err := s.repo.ListOrdersWithoutInvoice(ctx, s.now().Add(-s.cfg.MinAge), s.cfg.BatchSize)
	if err != nil {
		log.Error("failed to find orders without invoice", sl.Err(err))
		return 0
	}
	if len(orders) == 0 {
		log.Debug("no orders without invoice")
		return 0
	}
	log.Info("found orders without invoice", slog.Int("count", len(orders)))

	published := 0
	for _, o := range orders {
		items, err := o.CartItems()
		if err != nil || len(items) == 0 || o.PaymentIntentID == nil {
			log.Warn("order cannot be reconciled automatically", slog.Int64("order_id", o.ID), sl.Err(err))
			continue
		}
		orderID := o.ID
		task := models.ReconcileTask{
			UserID:          o.UserID,
			PaymentIntentID: *o.PaymentIntentID,
			Items:           items,
			OrderID:         &orderID,
			Reason:          ReasonSweep,
		}
		if err := s.publisher.PublishReconcile(ctx, task); err != nil {
			log.Error("failed to publish reconcile task", slog.Int64("order_id", o.ID), sl.Err(err))
			continue
		}
		published++
	}
	return published
}
