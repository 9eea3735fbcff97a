package me

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CurrentUser(ctx context.Context, principal *models.Principal) (*models.User, error) {
	args := m.Called(ctx, principal)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func TestMeHandler_ServeHTTP(t *testing.T) {
	principal := &models.Principal{UserID: 1, SessionID: "sid"}
	trial := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		user     *models.User
		err      error
		wantCode int
		wantBody string
	}{
		{
			name: "current user",
			user: &models.User{ID: 1, Email: "a@example.com", SubscribedAgents: []string{"crisp-write"},
				TrialEndsAt: &trial, CreatedAt: created},
			wantCode: http.StatusOK,
			wantBody: `{"status":"OK","data":{"id":1,"email":"a@example.com","subscribed_agents":["crisp-write"],
				"trial_ends_at":"2025-03-08T00:00:00Z","created_at":"2025-03-01T00:00:00Z"}}`,
		},
		{
			name:     "deleted user",
			err:      models.ErrUserNotFound,
			wantCode: http.StatusNotFound,
			wantBody: `{"status":"Error","error":"user not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("CurrentUser", mock.Anything, principal).Return(tt.user, tt.err).Once()

			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			req = req.WithContext(middlewarectx.WithPrincipal(req.Context(), principal))
			rec := httptest.NewRecorder()
			New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
