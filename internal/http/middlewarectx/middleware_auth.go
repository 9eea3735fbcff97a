// Package middlewarectx содержит HTTP middleware аутентификации, проверки
// доступа к агентам и ограничения частоты запросов.
//
// Authenticate достаёт токен сессии из заголовка Authorization или cookie и
// кладёт пользователя в контекст. RequireSession отклоняет запросы без
// сессии: API получает 401 со ссылкой на вход, страницы получают редирект 303.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// SessionCookie имя cookie с токеном сессии.
const SessionCookie = "session"

// ReturnToHeader заголовок, в котором клиент API передаёт страницу для возврата после входа.
const ReturnToHeader = "X-Return-To"

// LoginPath страница входа.
const LoginPath = "/auth"

// Authenticator проверяет токен сессии.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Principal, error)
}

// Authenticate возвращает middleware, который загружает пользователя по токену.
// Запрос без токена или с недействительным токеном проходит анонимно.
func Authenticate(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Authenticate"

			token := tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			principal, err := auth.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, models.ErrNotAuthenticated):
				log.Info("invalid or expired token", sl.Err(err))
				next.ServeHTTP(w, r)
				return
			case err != nil:
				log.Error("failed to load session", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal service error"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireSession отклоняет запросы API без сессии ответом 401 со ссылкой на вход.
func RequireSession(log *slog.Logger) func(http.Handler) http.Handler {
	return requireSession(log, false, "")
}

// RequireSessionReturnTo как RequireSession, но без заголовка X-Return-To
// возвращает после входа на страницу returnTo, а не на путь API.
func RequireSessionReturnTo(log *slog.Logger, returnTo string) func(http.Handler) http.Handler {
	return requireSession(log, false, returnTo)
}

// RequireSessionPage перенаправляет запросы страниц без сессии на вход.
func RequireSessionPage(log *slog.Logger) func(http.Handler) http.Handler {
	return requireSession(log, true, "")
}

func requireSession(log *slog.Logger, page bool, defaultReturnTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFrom(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			log.Info("session required",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("path", r.URL.Path),
			)
			if page {
				http.Redirect(w, r, LoginRedirect(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			returnTo := r.Header.Get(ReturnToHeader)
			if returnTo == "" {
				returnTo = defaultReturnTo
			}
			if returnTo == "" {
				returnTo = r.URL.RequestURI()
			}
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.AuthRequired(LoginRedirect(returnTo)))
		})
	}
}

// LoginRedirect адрес страницы входа с возвратом на next.
func LoginRedirect(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
