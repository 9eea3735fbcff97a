package register

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

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Register(ctx context.Context, email, name, password string) (int64, error) {
	args := m.Called(ctx, email, name, password)
	return args.Get(0).(int64), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestRegisterHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		setupMocks     func(*MockService)
		wantStatusCode int
		wantBody       string
	}{
		{
			name:        "valid registration",
			requestBody: Request{Email: "alice@example.com", Name: "Alice", Password: "password123"},
			setupMocks: func(m *MockService) {
				m.On("Register", mock.Anything, "alice@example.com", "Alice", "password123").Return(int64(7), nil).Once()
			},
			wantStatusCode: http.StatusCreated,
			wantBody:       `{"status":"OK","data":{"id":7}}`,
		},
		{
			name:           "invalid json body",
			requestBody:    "not a json",
			setupMocks:     func(*MockService) {},
			wantStatusCode: http.StatusBadRequest,
			wantBody:       `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "invalid email",
			requestBody:    Request{Email: "alice", Password: "password123"},
			setupMocks:     func(*MockService) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantBody:       `{"status":"Error","error":"field Email must be a valid email"}`,
		},
		{
			name:           "short password",
			requestBody:    Request{Email: "alice@example.com", Password: "short"},
			setupMocks:     func(*MockService) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantBody:       `{"status":"Error","error":"field Password must be at least 8"}`,
		},
		{
			name:        "email taken",
			requestBody: Request{Email: "alice@example.com", Password: "password123"},
			setupMocks: func(m *MockService) {
				m.On("Register", mock.Anything, "alice@example.com", "", "password123").
					Return(int64(0), models.ErrEmailExists).Once()
			},
			wantStatusCode: http.StatusBadRequest,
			wantBody:       `{"status":"Error","error":"email already exists"}`,
		},
		{
			name:        "storage failure",
			requestBody: Request{Email: "alice@example.com", Password: "password123"},
			setupMocks: func(m *MockService) {
				m.On("Register", mock.Anything, "alice@example.com", "", "password123").
					Return(int64(0), errors.New("db down")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantBody:       `{"status":"Error","error":"failed to register user"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMocks(svc)
			handler := New(newNoopLogger(), svc)

			var body []byte
			switch v := tt.requestBody.(type) {
			case string:
				body = []byte(v)
			default:
				var err error
				body, err = json.Marshal(v)
				if err != nil {
					t.Fatal(err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-id"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
