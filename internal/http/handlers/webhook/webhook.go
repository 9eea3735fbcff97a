// Package webhook принимает события платёжного провайдера.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
	"github.com/magabrotheeeer/agent-marketplace/internal/services/webhook"
)

// SignatureHeader заголовок с подписью события.
const SignatureHeader = "Stripe-Signature"

// MaxBodyBytes ограничение размера тела события.
const MaxBodyBytes = 65536

// Processor обрабатывает подписанные события.
type Processor interface {
	Process(ctx context.Context, payload []byte, signature string) error
}

// Handler обработчик POST /webhook.
type Handler struct {
	log       *slog.Logger
	processor Processor
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, processor Processor) *Handler {
	return &Handler{log: log, processor: processor}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает события payment_intent.*, invoice.* и customer.subscription.*.
// @Description Неизвестные события подтверждаются без обработки.
// @Tags Webhook
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} object
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer r.Body.Close()

	err = h.processor.Process(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrMissingSignature):
		log.Warn("webhook without signature")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing signature"))
		return
	case errors.Is(err, paymentprovider.ErrInvalidSignature):
		log.Warn("invalid webhook signature", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	case err != nil:
		log.Error("failed to process webhook event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}

	render.JSON(w, r, struct{}{})
}
