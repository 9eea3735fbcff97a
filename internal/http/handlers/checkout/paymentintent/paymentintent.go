// Package paymentintent создаёт платёжное намерение на итог корзины.
package paymentintent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/checkout"
)

// CheckoutPath страница, на которую пользователь вернётся после входа.
const CheckoutPath = "/checkout"

// Service создаёт платёжные намерения.
type Service interface {
	CreatePaymentIntent(ctx context.Context, principal *models.Principal, items []models.CartItem) (*checkout.PaymentIntent, error)
}

// Request тело запроса. Amount клиентская сумма, сервер пересчитывает итог сам.
type Request struct {
	Amount    decimal.Decimal   `json:"amount"`
	CartItems []models.CartItem `json:"cartItems" validate:"dive"`
}

// Handler обработчик POST /checkout/payment-intent.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Платёжное намерение
// @Description Считает итог корзины с налогом и создаёт платёжное намерение у провайдера.
// @Tags Checkout
// @Accept  json
// @Produce  json
// @Param request body Request true "Корзина и клиентская сумма"
// @Success 200 {object} checkout.PaymentIntent
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.AuthRequiredResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /checkout/payment-intent [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.paymentintent"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	principal, _ := middlewarectx.PrincipalFrom(r.Context())
	pi, err := h.service.CreatePaymentIntent(r.Context(), principal, req.CartItems)
	switch {
	case errors.Is(err, models.ErrNotAuthenticated):
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired(middlewarectx.LoginRedirect(CheckoutPath)))
		return
	case errors.Is(err, models.ErrEmptyCart):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("your cart is empty"))
		return
	case errors.Is(err, models.ErrInvalidCartItem):
		log.Info("invalid cart item", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(models.ErrInvalidCartItem.Error()))
		return
	case errors.Is(err, models.ErrAmountTooSmall):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("order total is below the minimum charge"))
		return
	case err != nil:
		log.Error("failed to create payment intent", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("payment could not be started, please try again later"))
		return
	}

	if total, perr := decimal.NewFromString(pi.Total); perr == nil && !req.Amount.IsZero() && !req.Amount.Equal(total) {
		log.Warn("client amount differs from server total",
			slog.String("client_amount", req.Amount.String()),
			slog.String("server_total", pi.Total),
		)
	}

	log.Info("payment intent created", slog.Int64("user_id", principal.UserID), slog.String("payment_intent_id", pi.PaymentIntentID))
	render.JSON(w, r, pi)
}
