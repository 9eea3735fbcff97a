// Package launch перенаправляет пользователя на внешний адрес агента.
// Доступ проверяется middleware AgentAccessGate до вызова обработчика.
package launch

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// Service выдаёт адрес запуска агента.
type Service interface {
	LaunchURL(agentID string) (string, error)
}

// Handler обработчик GET /agents/{agentID}/launch.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Запуск агента
// @Tags Agents
// @Param agentID path string true "Идентификатор агента"
// @Success 302 "Редирект на агента"
// @Failure 303 "Редирект на вход"
// @Failure 403 {object} response.UpgradeResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /agents/{agentID}/launch [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.agents.launch"
	agentID := chi.URLParam(r, middlewarectx.AgentIDParam)

	url, err := h.service.LaunchURL(agentID)
	if errors.Is(err, models.ErrUnknownAgent) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("agent not found"))
		return
	}
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}

	h.log.Info("agent launched",
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("agent_id", agentID),
	)
	http.Redirect(w, r, url, http.StatusFound)
}
