// Package subscribe оформляет подписку пользователя на агента с пробным периодом.
package subscribe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// Service оформляет подписки.
type Service interface {
	Subscribe(ctx context.Context, userID int64, agentID string) (*models.AgentSubscription, error)
}

// Handler обработчик POST /agents/{agentID}/subscribe.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Подписка на агента
// @Description Создаёт подписку у платёжного провайдера с пробным периодом.
// @Tags Agents
// @Produce  json
// @Param agentID path string true "Идентификатор агента"
// @Success 201 {object} response.Response
// @Failure 401 {object} response.AuthRequiredResponse
// @Failure 404 {object} response.ErrorResponse "Агент не найден"
// @Failure 409 {object} response.ErrorResponse "Агент недоступен для покупки"
// @Failure 500 {object} response.ErrorResponse
// @Router /agents/{agentID}/subscribe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.agents.subscribe"
	agentID := chi.URLParam(r, middlewarectx.AgentIDParam)

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("agent_id", agentID),
	)

	principal, _ := middlewarectx.PrincipalFrom(r.Context())
	if principal == nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.AuthRequired(middlewarectx.LoginRedirect(r.URL.RequestURI())))
		return
	}

	sub, err := h.service.Subscribe(r.Context(), principal.UserID, agentID)
	switch {
	case errors.Is(err, models.ErrUnknownAgent):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("agent not found"))
		return
	case errors.Is(err, models.ErrAgentNotPurchasable):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("agent is not available for purchase"))
		return
	case err != nil:
		log.Error("failed to subscribe", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to create subscription, please try again later"))
		return
	}

	log.Info("subscribed", slog.Int64("user_id", principal.UserID), slog.String("subscription_id", sub.ProviderSubscriptionID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"subscription_id": sub.ProviderSubscriptionID,
		"status":          sub.Status,
		"trial_end":       sub.TrialEnd,
	}))
}
