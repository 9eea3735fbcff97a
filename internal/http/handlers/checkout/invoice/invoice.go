// Package invoice выставляет счёт на оплаченную корзину и сохраняет заказ.
package invoice

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
	"github.com/magabrotheeeer/agent-marketplace/internal/services/invoicing"
)

// Service выставляет счета.
type Service interface {
	CreateInvoice(ctx context.Context, userID int64, items []models.CartItem, paymentIntentID string) (*invoicing.Result, error)
}

// Request тело запроса после подтверждения оплаты на клиенте.
type Request struct {
	CartItems       []models.CartItem `json:"cartItems" validate:"dive"`
	Amount          decimal.Decimal   `json:"amount"`
	PaymentIntentID string            `json:"paymentIntentId" validate:"required"`
}

// Response успешный ответ. Warning заполнен, когда счёт будет выставлен позже.
type Response struct {
	Success    bool   `json:"success"`
	OrderID    int64  `json:"orderId,omitempty"`
	InvoiceID  string `json:"invoiceId,omitempty"`
	InvoiceURL string `json:"invoiceUrl,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// Handler обработчик POST /checkout/invoice.
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
// @Summary Счёт на оплаченную корзину
// @Description Проверяет платёжное намерение, выставляет счёт и сохраняет заказ.
// @Description Сбой выставления счёта не отменяет покупку: ответ успешный, с предупреждением.
// @Tags Checkout
// @Accept  json
// @Produce  json
// @Param request body Request true "Корзина и платёжное намерение"
// @Success 200 {object} Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.AuthRequiredResponse
// @Failure 409 {object} response.ErrorResponse "Оплата не подтверждена"
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /checkout/invoice [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.invoice"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	principal, _ := middlewarectx.PrincipalFrom(r.Context())
	if principal == nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired(middlewarectx.LoginRedirect("/checkout")))
		return
	}

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

	log = log.With(slog.Int64("user_id", principal.UserID), slog.String("payment_intent_id", req.PaymentIntentID))

	res, err := h.service.CreateInvoice(r.Context(), principal.UserID, req.CartItems, req.PaymentIntentID)
	switch {
	case errors.Is(err, models.ErrEmptyCart):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("your cart is empty"))
		return
	case errors.Is(err, models.ErrInvalidCartItem):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(models.ErrInvalidCartItem.Error()))
		return
	case errors.Is(err, models.ErrPaymentNotConfirmed):
		log.Warn("invoice requested for unconfirmed payment", sl.Err(err))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("payment has not been confirmed"))
		return
	case err != nil:
		log.Error("failed to complete checkout", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}

	if res.Warning != "" {
		log.Warn("checkout completed without invoice", slog.Int64("order_id", res.OrderID))
	} else {
		log.Info("checkout completed", slog.Int64("order_id", res.OrderID), slog.String("invoice_id", res.InvoiceID))
	}
	render.JSON(w, r, Response{
		Success:    true,
		OrderID:    res.OrderID,
		InvoiceID:  res.InvoiceID,
		InvoiceURL: res.InvoiceURL,
		Warning:    res.Warning,
	})
}
