// Package quote отдаёт страницу оформления: серверную корзину пользователя с итогами.
package quote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/cart"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/checkout"
)

// Service считает итог корзины.
type Service interface {
	Quote(ctx context.Context, ownerKey string) (*checkout.Quote, error)
}

// Handler обработчик GET /checkout.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Оформление заказа
// @Tags Checkout
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 303 "Редирект на вход"
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /checkout [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.quote"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	principal, _ := middlewarectx.PrincipalFrom(r.Context())
	if principal == nil {
		http.Redirect(w, r, middlewarectx.LoginRedirect(r.URL.RequestURI()), http.StatusSeeOther)
		return
	}

	q, err := h.service.Quote(r.Context(), cart.UserKey(principal.UserID))
	switch {
	case errors.Is(err, models.ErrInvalidCartItem):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(models.ErrInvalidCartItem.Error()))
		return
	case err != nil:
		log.Error("failed to quote cart", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}
	if q.Items == nil {
		q.Items = []models.CartItem{}
	}

	render.JSON(w, r, response.StatusOKWithData(q))
}
