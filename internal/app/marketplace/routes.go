package marketplace

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/agents/launch"
	agentslist "github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/agents/list"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/agents/subscribe"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/auth/me"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/cartitems"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/checkout/invoice"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/checkout/paymentintent"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/checkout/quote"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/health"
	orderslist "github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/orders/list"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/auth"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/checkout"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/entitlement"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/invoicing"
	webhookservice "github.com/magabrotheeeer/agent-marketplace/internal/services/webhook"
)

// Лимит запросов к оформлению заказа на один процесс.
const (
	checkoutRateInterval = 200 * time.Millisecond
	checkoutRateBurst    = 10
)

// Services сервисы, которые обслуживают маршруты.
type Services struct {
	Auth         *auth.Service
	Entitlements *entitlement.Service
	Checkout     *checkout.Service
	Invoicing    *invoicing.Service
	Webhooks     *webhookservice.Processor
	Carts        cartitems.Repository
	Health       map[string]health.Pinger
	SecureCookie bool
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук подписан провайдером, сессия не нужна
		r.Post("/webhook", webhook.New(logger, s.Webhooks).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.Authenticate(s.Auth, logger))

			r.Post("/register", register.New(logger, s.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, s.Auth, s.SecureCookie).ServeHTTP)
			r.Get("/agents", agentslist.New(logger, s.Entitlements).ServeHTTP)

			cart := cartitems.New(logger, s.Carts)
			r.Get("/cart", cart.Get)
			r.Put("/cart", cart.Put)
			r.Delete("/cart", cart.Delete)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireSession(logger))
				r.Post("/logout", logout.New(logger, s.Auth).ServeHTTP)
				r.Get("/user", me.New(logger, s.Auth).ServeHTTP)
				r.Post("/agents/{agentID}/subscribe", subscribe.New(logger, s.Entitlements).ServeHTTP)
				r.Get("/orders", orderslist.New(logger, s.Invoicing).ServeHTTP)
			})

			// После входа покупатель возвращается на страницу оформления, а не на POST-маршрут
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireSessionReturnTo(logger, paymentintent.CheckoutPath))
				r.Use(middlewarectx.RateLimitMiddleware(logger, rate.Every(checkoutRateInterval), checkoutRateBurst))
				r.Post("/checkout/payment-intent", paymentintent.New(logger, s.Checkout).ServeHTTP)
				r.Post("/checkout/invoice", invoice.New(logger, s.Invoicing).ServeHTTP)
			})
		})
	})

	// Страницы: без сессии редирект на вход с возвратом
	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.Authenticate(s.Auth, logger))
		r.Use(middlewarectx.RequireSessionPage(logger))
		r.Get("/checkout", quote.New(logger, s.Checkout).ServeHTTP)
		r.With(middlewarectx.AgentAccessGate(s.Entitlements, logger)).
			Get("/agents/{agentID}/launch", launch.New(logger, s.Entitlements).ServeHTTP)
	})

	r.Get("/health", health.New(logger, s.Health).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
