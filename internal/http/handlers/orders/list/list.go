// Package list отдаёт историю заказов пользователя.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// Service читает заказы.
type Service interface {
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
}

// Handler обработчик GET /orders.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary История заказов
// @Tags Orders
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.AuthRequiredResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /orders [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.orders.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	principal, _ := middlewarectx.PrincipalFrom(r.Context())
	if principal == nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired(middlewarectx.LoginRedirect("/orders")))
		return
	}

	orders, err := h.service.ListOrders(r.Context(), principal.UserID)
	if err != nil {
		log.Error("failed to list orders", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	log.Info("orders listed", slog.Int("count", len(orders)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"list_count": len(orders),
		"orders":     orders,
	}))
}
