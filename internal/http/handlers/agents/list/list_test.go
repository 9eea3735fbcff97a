package list

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/agent-marketplace/internal/catalog"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/entitlement"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ListAgents(ctx context.Context, principal *models.Principal) ([]entitlement.AgentView, error) {
	args := m.Called(ctx, principal)
	views, _ := args.Get(0).([]entitlement.AgentView)
	return views, args.Error(1)
}

func TestListHandler_ServeHTTP(t *testing.T) {
	principal := &models.Principal{UserID: 1}
	yes := true
	view := entitlement.AgentView{
		Agent: catalog.Agent{
			ID: "crisp-write", Name: "CrispWrite", Description: "d",
			MonthlyPrice: decimal.NewFromInt(24), Features: []string{"f"},
			LaunchURL: "https://secret", PriceID: "price_x",
		},
		MonthlyPrice: "24.00",
		HasAccess:    &yes,
	}

	tests := []struct {
		name      string
		principal *models.Principal
		views     []entitlement.AgentView
		err       error
		wantCode  int
		wantBody  string
	}{
		{
			name:      "signed in",
			principal: principal,
			views:     []entitlement.AgentView{view},
			wantCode:  http.StatusOK,
			wantBody: `{"status":"OK","data":[{"id":"crisp-write","name":"CrispWrite","description":"d",
				"monthly_price":"24.00","features":["f"],"has_access":true}]}`,
		},
		{
			name:     "failure",
			err:      errors.New("db down"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"status":"Error","error":"internal service error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("ListAgents", mock.Anything, tt.principal).Return(tt.views, tt.err).Once()

			req := httptest.NewRequest(http.MethodGet, "/agents", nil)
			if tt.principal != nil {
				req = req.WithContext(middlewarectx.WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
