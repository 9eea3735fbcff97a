// Package cartitems реализует HTTP-обработчики серверной корзины.
//
// Владелец корзины это пользователь сессии, а без сессии гость с ключом из
// заголовка X-Guest-Key. Гостю без ключа выдаётся новый ключ в том же заголовке ответа.
package cartitems

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/agent-marketplace/internal/cart"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/middlewarectx"
	"github.com/magabrotheeeer/agent-marketplace/internal/http/response"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/money"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// GuestKeyHeader заголовок с ключом гостевой корзины.
const GuestKeyHeader = "X-Guest-Key"

// Repository хранилище корзин.
type Repository interface {
	Load(ctx context.Context, ownerKey string) ([]models.CartItem, error)
	Save(ctx context.Context, ownerKey string, items []models.CartItem) error
	Clear(ctx context.Context, ownerKey string) error
}

// Request новое содержимое корзины.
type Request struct {
	Items []models.CartItem `json:"items" validate:"dive"`
}

// Cart корзина с итогами.
type Cart struct {
	Items    []models.CartItem `json:"items"`
	Subtotal string            `json:"subtotal"`
	Tax      string            `json:"tax"`
	Total    string            `json:"total"`
}

// Handler обработчики GET/PUT/DELETE /cart.
type Handler struct {
	log      *slog.Logger
	repo     Repository
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, repo Repository) *Handler {
	return &Handler{
		log:      log,
		repo:     repo,
		validate: validator.New(),
	}
}

var errBadGuestKey = errors.New("invalid guest key")

// ownerKey определяет владельца корзины. create=true выдаёт гостю новый ключ.
func ownerKey(w http.ResponseWriter, r *http.Request, create bool) (string, bool, error) {
	if p, ok := middlewarectx.PrincipalFrom(r.Context()); ok {
		return cart.UserKey(p.UserID), true, nil
	}
	if key := r.Header.Get(GuestKeyHeader); key != "" {
		id, err := uuid.Parse(key)
		if err != nil {
			return "", false, errBadGuestKey
		}
		return cart.GuestKey(id.String()), true, nil
	}
	if !create {
		return "", false, nil
	}
	key := uuid.NewString()
	w.Header().Set(GuestKeyHeader, key)
	return cart.GuestKey(key), true, nil
}

// Get godoc
// @Summary Корзина
// @Tags Cart
// @Produce  json
// @Param X-Guest-Key header string false "Ключ гостевой корзины"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cart [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cart.get"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	key, _, err := ownerKey(w, r, true)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	items, err := h.repo.Load(r.Context(), key)
	if err != nil {
		log.Error("failed to load cart", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}
	totals, err := money.CalculateTotals(items)
	if err != nil {
		log.Warn("stored cart is invalid, clearing", sl.Err(err))
		if err := h.repo.Clear(r.Context(), key); err != nil {
			log.Error("failed to clear cart", sl.Err(err))
		}
		items, totals = nil, money.Totals{}
	}

	render.JSON(w, r, response.StatusOKWithData(withTotals(items, totals)))
}

// Put godoc
// @Summary Сохранить корзину
// @Tags Cart
// @Accept  json
// @Produce  json
// @Param X-Guest-Key header string false "Ключ гостевой корзины"
// @Param request body Request true "Позиции корзины"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cart [put]
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cart.put"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	totals, err := money.CalculateTotals(req.Items)
	if err != nil {
		log.Info("invalid cart item", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(models.ErrInvalidCartItem.Error()))
		return
	}

	key, _, err := ownerKey(w, r, true)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	if err := h.repo.Save(r.Context(), key, req.Items); err != nil {
		log.Error("failed to save cart", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(withTotals(req.Items, totals)))
}

// Delete godoc
// @Summary Очистить корзину
// @Tags Cart
// @Produce  json
// @Param X-Guest-Key header string false "Ключ гостевой корзины"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /cart [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cart.delete"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	key, ok, err := ownerKey(w, r, false)
	if err != nil || !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("cart owner is unknown"))
		return
	}
	if err := h.repo.Clear(r.Context(), key); err != nil {
		log.Error("failed to clear cart", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal service error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(withTotals(nil, money.Totals{})))
}

func withTotals(items []models.CartItem, totals money.Totals) Cart {
	if items == nil {
		items = []models.CartItem{}
	}
	return Cart{
		Items:    items,
		Subtotal: money.Format(totals.Subtotal),
		Tax:      money.Format(totals.Tax),
		Total:    money.Format(totals.Total),
	}
}
