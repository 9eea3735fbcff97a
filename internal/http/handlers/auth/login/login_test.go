package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/auth"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Login(ctx context.Context, email, password, next string) (*auth.LoginResult, error) {
	args := m.Called(ctx, email, password, next)
	res, _ := args.Get(0).(*auth.LoginResult)
	return res, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	user := &models.User{ID: 3, Email: "alice@example.com", SubscribedAgents: []string{}, CreatedAt: created}

	tests := []struct {
		name           string
		target         string
		requestBody    any
		setupMocks     func(*MockService)
		wantStatusCode int
		wantBody       string
		wantCookie     bool
	}{
		{
			name:        "valid login with next in query",
			target:      "/login?next=/checkout",
			requestBody: Request{Email: "alice@example.com", Password: "password123"},
			setupMocks: func(m *MockService) {
				m.On("Login", mock.Anything, "alice@example.com", "password123", "/checkout").Return(&auth.LoginResult{
					Token:      "tok",
					User:       user,
					RedirectTo: "/checkout",
					ExpiresAt:  time.Now().Add(time.Hour),
				}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantBody: `{"status":"OK","data":{"token":"tok","redirect_to":"/checkout",
				"user":{"id":3,"email":"alice@example.com","subscribed_agents":[],"created_at":"2025-03-01T00:00:00Z"}}}`,
			wantCookie: true,
		},
		{
			name:           "invalid json body",
			target:         "/login",
			requestBody:    "not a json",
			setupMocks:     func(*MockService) {},
			wantStatusCode: http.StatusBadRequest,
			wantBody:       `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "validation error - missing password",
			target:         "/login",
			requestBody:    Request{Email: "alice@example.com"},
			setupMocks:     func(*MockService) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantBody:       `{"status":"Error","error":"field Password is a required field"}`,
		},
		{
			name:        "wrong credentials",
			target:      "/login",
			requestBody: Request{Email: "alice@example.com", Password: "nope", Next: "/agents"},
			setupMocks: func(m *MockService) {
				m.On("Login", mock.Anything, "alice@example.com", "nope", "/agents").
					Return(nil, models.ErrInvalidCredentials).Once()
			},
			wantStatusCode: http.StatusUnauthorized,
			wantBody:       `{"status":"Error","error":"invalid credentials"}`,
		},
		{
			name:        "session store failure",
			target:      "/login",
			requestBody: Request{Email: "alice@example.com", Password: "password123"},
			setupMocks: func(m *MockService) {
				m.On("Login", mock.Anything, "alice@example.com", "password123", "").
					Return(nil, errors.New("redis down")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantBody:       `{"status":"Error","error":"internal service error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMocks(svc)
			handler := New(newNoopLogger(), svc, true)

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, tt.target, bytes.NewReader(body))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())

			cookies := rec.Result().Cookies()
			if tt.wantCookie {
				require.Len(t, cookies, 1)
				assert.Equal(t, middlewarectx.SessionCookie, cookies[0].Name)
				assert.Equal(t, "tok", cookies[0].Value)
				assert.True(t, cookies[0].HttpOnly)
				assert.True(t, cookies[0].Secure)
			} else {
				assert.Empty(t, cookies)
			}
			svc.AssertExpectations(t)
		})
	}
}
