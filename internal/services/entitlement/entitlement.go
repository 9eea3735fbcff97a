// Package entitlement решает, может ли пользователь запускать агента, и ведёт
// явные выдачи агентов и подписки пользователей на них.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/catalog"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/metrics"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
	"github.com/magabrotheeeer/agent-marketplace/internal/paymentprovider"
)

// Repository хранилище пользователей и подписок.
type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error)
	GrantAgent(ctx context.Context, userID int64, agentID string) error
	ListSubscriptions(ctx context.Context, userID int64, agentID string) ([]models.AgentSubscription, error)
	ListUserSubscriptions(ctx context.Context, userID int64) ([]models.AgentSubscription, error)
	CreateSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error)
	UpdateSubscription(ctx context.Context, sub models.AgentSubscription) error
	UpsertSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.AgentSubscription, error)
	UpdateSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status models.SubscriptionStatus) (int64, error)
}

// CustomerResolver выдаёт клиента провайдера для пользователя.
type CustomerResolver interface {
	EnsureCustomer(ctx context.Context, user *models.User) (string, error)
}

// SubscriptionProvider оформляет подписки у провайдера.
type SubscriptionProvider interface {
	CreateSubscription(ctx context.Context, req paymentprovider.SubscriptionRequest) (*paymentprovider.Subscription, error)
}

// Config параметры сервиса.
type Config struct {
	AdminEmail      string
	TrialPeriodDays int64
}

// Service сервис прав доступа к агентам.
type Service struct {
	log       *slog.Logger
	repo      Repository
	customers CustomerResolver
	provider  SubscriptionProvider
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
}

// New создаёт сервис прав доступа.
func New(log *slog.Logger, repo Repository, customers CustomerResolver, provider SubscriptionProvider,
	cat *catalog.Catalog, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		log:       log,
		repo:      repo,
		customers: customers,
		provider:  provider,
		catalog:   cat,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) isAdmin(u *models.User) bool {
	return s.cfg.AdminEmail != "" && strings.EqualFold(u.Email, s.cfg.AdminEmail)
}

// hasAccess применяет правила по порядку, первое совпадение выигрывает:
// администратор, явная выдача, подписка (по статусу или пробному периоду),
// общий пробный период пользователя.
func (s *Service) hasAccess(u *models.User, subs []models.AgentSubscription, agentID string, now time.Time) bool {
	if s.isAdmin(u) {
		return true
	}
	if u.HasGrant(agentID) {
		return true
	}
	for i := range subs {
		if subs[i].AgentID == agentID && subs[i].GrantsAccess(now) {
			return true
		}
	}
	return u.InTrial(now)
}

// CheckAgentAccess сообщает, может ли пользователь запускать агента.
// Неизвестный пользователь не имеет доступа, это не ошибка.
func (s *Service) CheckAgentAccess(ctx context.Context, userID int64, agentID string) (bool, error) {
	const op = "services.entitlement.CheckAgentAccess"

	user, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrUserNotFound) {
		s.metrics.Access(agentID, false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var subs []models.AgentSubscription
	if !s.isAdmin(user) && !user.HasGrant(agentID) {
		subs, err = s.repo.ListSubscriptions(ctx, userID, agentID)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	allowed := s.hasAccess(user, subs, agentID, s.now())
	s.metrics.Access(agentID, allowed)
	return allowed, nil
}

// GrantAgent явно выдаёт агента пользователю. Повторная выдача ничего не меняет.
func (s *Service) GrantAgent(ctx context.Context, userID int64, agentID string) error {
	const op = "services.entitlement.GrantAgent"
	if _, ok := s.catalog.Get(agentID); !ok {
		return fmt.Errorf("%s: %w: %s", op, models.ErrUnknownAgent, agentID)
	}
	if err := s.repo.GrantAgent(ctx, userID, agentID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("agent granted", sl.Op(op), slog.Int64("user_id", userID), slog.String("agent_id", agentID))
	return nil
}

// CreateSubscription сохраняет подписку пользователя на агента.
func (s *Service) CreateSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error) {
	const op = "services.entitlement.CreateSubscription"
	if err := validateSubscription(sub); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := s.repo.CreateSubscription(ctx, sub)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// UpdateSubscription обновляет подписку по её ID.
func (s *Service) UpdateSubscription(ctx context.Context, sub models.AgentSubscription) error {
	const op = "services.entitlement.UpdateSubscription"
	if err := validateSubscription(sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SyncSubscription создаёт или обновляет подписку по идентификатору у провайдера.
func (s *Service) SyncSubscription(ctx context.Context, sub models.AgentSubscription) (int64, error) {
	const op = "services.entitlement.SyncSubscription"
	if err := validateSubscription(sub); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := s.repo.UpsertSubscription(ctx, sub)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// SyncProviderSubscription переносит состояние подписки провайдера в хранилище.
// Подписка сопоставляется с пользователем и агентом по метаданным, затем по
// клиенту провайдера и цене. Если сопоставить не удалось, возвращается false.
func (s *Service) SyncProviderSubscription(ctx context.Context, ps *paymentprovider.Subscription, deleted bool) (bool, error) {
	const op = "services.entitlement.SyncProviderSubscription"
	log := s.log.With(sl.Op(op), slog.String("subscription_id", ps.ID))

	status := models.ParseSubscriptionStatus(ps.Status)
	if deleted {
		status = models.SubscriptionCanceled
	}

	existing, err := s.repo.GetSubscriptionByProviderID(ctx, ps.ID)
	if err != nil && !errors.Is(err, models.ErrSubscriptionNotFound) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	sub := models.AgentSubscription{
		ProviderSubscriptionID: ps.ID,
		Status:                 status,
		PriceID:                ps.PriceID,
		CurrentPeriodStart:     ps.CurrentPeriodStart,
		CurrentPeriodEnd:       ps.CurrentPeriodEnd,
		TrialEnd:               ps.TrialEnd,
	}
	if existing != nil {
		sub.UserID = existing.UserID
		sub.AgentID = existing.AgentID
		if sub.PriceID == "" {
			sub.PriceID = existing.PriceID
		}
	} else {
		userID, agentID, err := s.resolveOwner(ctx, ps)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if userID == 0 || agentID == "" {
			log.Warn("subscription does not map to a user and agent, skipping",
				slog.String("customer_id", ps.CustomerID), slog.String("price_id", ps.PriceID))
			return false, nil
		}
		sub.UserID = userID
		sub.AgentID = agentID
	}

	if _, err := s.SyncSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription synced", slog.String("status", string(status)), slog.String("agent_id", sub.AgentID))
	return true, nil
}

func (s *Service) resolveOwner(ctx context.Context, ps *paymentprovider.Subscription) (int64, string, error) {
	var userID int64
	if raw := ps.Metadata["user_id"]; raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userID = id
		}
	}
	if userID == 0 && ps.CustomerID != "" {
		u, err := s.repo.GetUserByCustomerID(ctx, ps.CustomerID)
		switch {
		case err == nil:
			userID = u.ID
		case !errors.Is(err, models.ErrUserNotFound):
			return 0, "", err
		}
	}

	agentID := ps.Metadata["agent_id"]
	if _, ok := s.catalog.Get(agentID); !ok {
		agentID = ""
		for _, a := range s.catalog.List() {
			if a.PriceID != "" && a.PriceID == ps.PriceID {
				agentID = a.ID
				break
			}
		}
	}
	return userID, agentID, nil
}

// SetSubscriptionStatus меняет статус подписки по идентификатору у провайдера.
func (s *Service) SetSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status models.SubscriptionStatus) (int64, error) {
	const op = "services.entitlement.SetSubscriptionStatus"
	affected, err := s.repo.UpdateSubscriptionStatus(ctx, providerSubscriptionID, status)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}

// Subscribe оформляет подписку пользователя на агента у провайдера с пробным
// периодом и сохраняет её.
func (s *Service) Subscribe(ctx context.Context, userID int64, agentID string) (*models.AgentSubscription, error) {
	const op = "services.entitlement.Subscribe"
	log := s.log.With(sl.Op(op), slog.Int64("user_id", userID), slog.String("agent_id", agentID))

	agent, ok := s.catalog.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, models.ErrUnknownAgent, agentID)
	}
	if !agent.Purchasable() {
		return nil, fmt.Errorf("%s: %w: %s", op, models.ErrAgentNotPurchasable, agentID)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	customerID, err := s.customers.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ps, err := s.provider.CreateSubscription(ctx, paymentprovider.SubscriptionRequest{
		CustomerID:      customerID,
		PriceID:         agent.PriceID,
		TrialPeriodDays: s.cfg.TrialPeriodDays,
		Metadata: map[string]string{
			"user_id":  strconv.FormatInt(userID, 10),
			"agent_id": agentID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub := models.AgentSubscription{
		UserID:                 userID,
		AgentID:                agentID,
		ProviderSubscriptionID: ps.ID,
		Status:                 models.ParseSubscriptionStatus(ps.Status),
		PriceID:                agent.PriceID,
		CurrentPeriodStart:     ps.CurrentPeriodStart,
		CurrentPeriodEnd:       ps.CurrentPeriodEnd,
		TrialEnd:               ps.TrialEnd,
	}
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = s.now().UTC()
	}
	if sub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = sub.CurrentPeriodStart.AddDate(0, 1, 0)
	}

	id, err := s.SyncSubscription(ctx, sub)
	if err != nil {
		log.Error("provider subscription created but not saved", slog.String("subscription_id", ps.ID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.ID = id

	log.Info("subscription created", slog.String("subscription_id", ps.ID), slog.String("status", string(sub.Status)))
	return &sub, nil
}

// AgentView карточка агента с признаком доступа для текущего пользователя.
type AgentView struct {
	catalog.Agent
	MonthlyPrice string `json:"monthly_price"`
	HasAccess    *bool  `json:"has_access,omitempty"`
}

// ListAgents возвращает каталог. Для авторизованного пользователя карточки
// дополняются признаком доступа.
func (s *Service) ListAgents(ctx context.Context, principal *models.Principal) ([]AgentView, error) {
	const op = "services.entitlement.ListAgents"
	agents := s.catalog.List()
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, AgentView{Agent: a, MonthlyPrice: a.MonthlyPrice.StringFixed(2)})
	}
	if principal == nil {
		return views, nil
	}

	user, err := s.repo.GetUserByID(ctx, principal.UserID)
	if errors.Is(err, models.ErrUserNotFound) {
		return views, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	subs, err := s.repo.ListUserSubscriptions(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	for i := range views {
		allowed := s.hasAccess(user, subs, views[i].ID, now)
		views[i].HasAccess = &allowed
	}
	return views, nil
}

// LaunchURL возвращает адрес запуска агента.
func (s *Service) LaunchURL(agentID string) (string, error) {
	const op = "services.entitlement.LaunchURL"
	agent, ok := s.catalog.Get(agentID)
	if !ok || agent.LaunchURL == "" {
		return "", fmt.Errorf("%s: %w: %s", op, models.ErrUnknownAgent, agentID)
	}
	return agent.LaunchURL, nil
}

func validateSubscription(sub models.AgentSubscription) error {
	switch {
	case sub.UserID <= 0:
		return errors.New("subscription has no user")
	case sub.AgentID == "":
		return errors.New("subscription has no agent")
	case sub.ProviderSubscriptionID == "":
		return errors.New("subscription has no provider id")
	}
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionTrialing, models.SubscriptionPastDue, models.SubscriptionCanceled:
		return nil
	default:
		return fmt.Errorf("unknown subscription status %q", sub.Status)
	}
}
