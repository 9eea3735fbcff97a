package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
)

// AgentIDParam имя параметра маршрута с идентификатором агента.
const AgentIDParam = "agentID"

// AccessChecker решает, может ли пользователь запускать агента.
type AccessChecker interface {
	CheckAgentAccess(ctx context.Context, userID int64, agentID string) (bool, error)
}

// UpgradeURL страница оформления подписки на агента.
func UpgradeURL(agentID string) string {
	return "/agents?upgrade=" + url.QueryEscape(agentID)
}

// AgentAccessGate пропускает к запуску агента только пользователей с доступом.
// Ставится после RequireSessionPage.
func AgentAccessGate(checker AccessChecker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.AgentAccessGate"
			agentID := chi.URLParam(r, AgentIDParam)

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("agent_id", agentID),
			)

			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				http.Redirect(w, r, LoginRedirect(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			allowed, err := checker.CheckAgentAccess(r.Context(), principal.UserID, agentID)
			if err != nil {
				log.Error("failed to check agent access", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal service error"))
				return
			}
			if !allowed {
				log.Info("agent access denied", slog.Int64("user_id", principal.UserID))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Upgrade(agentID, UpgradeURL(agentID)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
