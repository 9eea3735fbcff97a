// Package metrics объявляет счётчики Prometheus для платёжных потоков,
// проверок доступа и вебхуков.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics набор счётчиков сервиса.
type Metrics struct {
	PaymentIntents      *prometheus.CounterVec
	Invoices            *prometheus.CounterVec
	AccessDecisions     *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	ReconcileTasks      *prometheus.CounterVec
	CheckoutAmountMinor prometheus.Counter
}

// New регистрирует счётчики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PaymentIntents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "payment_intents_total",
			Help:      "Payment intents by result.",
		}, []string{"result"}),
		Invoices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "invoices_total",
			Help:      "Invoice creation attempts by result.",
		}, []string{"result"}),
		AccessDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "agent_access_decisions_total",
			Help:      "Agent access checks by agent and decision.",
		}, []string{"agent", "decision"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "webhook_events_total",
			Help:      "Webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		ReconcileTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "reconcile_tasks_total",
			Help:      "Invoice reconciliation tasks by result.",
		}, []string{"result"}),
		CheckoutAmountMinor: f.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "checkout_amount_minor_total",
			Help:      "Sum of payment intent amounts in minor units.",
		}),
	}
}

// NewNoop возвращает счётчики, не привязанные к общему реестру. Удобно в тестах.
func NewNoop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Access учитывает решение проверки доступа.
func (m *Metrics) Access(agentID string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.AccessDecisions.WithLabelValues(agentID, decision).Inc()
}
