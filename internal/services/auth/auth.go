// Package auth отвечает за регистрацию, вход и выход пользователей и за
// проверку токенов серверных сессий.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/jwt"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/password"
	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// CreateUser сохраняет нового пользователя и возвращает его ID.
	CreateUser(ctx context.Context, email string, name *string, passwordHash string, trialEndsAt time.Time) (int64, error)

	// GetUserByEmail возвращает пользователя по email или models.ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// SessionStore хранилище серверных сессий.
type SessionStore interface {
	Create(ctx context.Context, userID int64, email string) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// PasswordHasher хеширует и сверяет пароли.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Service отвечает за регистрацию, вход и проверку сессий.
type Service struct {
	log         *slog.Logger
	users       UserRepository
	sessions    SessionStore
	hasher      PasswordHasher
	jwtMaker    jwt.Maker
	tokenTTL    time.Duration
	trialPeriod time.Duration
	now         func() time.Time
}

// NewService создает новый экземпляр Service.
func NewService(log *slog.Logger, users UserRepository, sessions SessionStore, hasher PasswordHasher,
	jwtMaker jwt.Maker, tokenTTL, trialPeriod time.Duration) *Service {
	return &Service{
		log:         log,
		users:       users,
		sessions:    sessions,
		hasher:      hasher,
		jwtMaker:    jwtMaker,
		tokenTTL:    tokenTTL,
		trialPeriod: trialPeriod,
		now:         time.Now,
	}
}

// LoginResult итог успешного входа.
type LoginResult struct {
	Token      string
	User       *models.User
	RedirectTo string
	ExpiresAt  time.Time
}

// Register создает нового пользователя с хэшированием пароля и пробным периодом.
func (s *Service) Register(ctx context.Context, email, name, rawPassword string) (int64, error) {
	const op = "services.auth.Register"

	hashed, err := s.hasher.Hash(rawPassword)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var namePtr *string
	if name = strings.TrimSpace(name); name != "" {
		namePtr = &name
	}
	trialEndsAt := s.now().UTC().Add(s.trialPeriod)

	id, err := s.users.CreateUser(ctx, strings.TrimSpace(email), namePtr, hashed, trialEndsAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user registered", sl.Op(op), slog.Int64("user_id", id))
	return id, nil
}

// Login проверяет пароль, открывает сессию и выпускает токен.
// redirect_to результата содержит безопасный относительный путь из next.
func (s *Service) Login(ctx context.Context, email, rawPassword, next string) (*LoginResult, error) {
	const op = "services.auth.Login"

	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.hasher.Compare(user.PasswordHash, rawPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.sessions.Create(ctx, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	token, err := s.jwtMaker.GenerateToken(user.ID, user.Email, sess.ID)
	if err != nil {
		if delErr := s.sessions.Delete(ctx, sess.ID); delErr != nil {
			s.log.Warn("failed to drop session after token error", sl.Op(op), sl.Err(delErr))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &LoginResult{
		Token:      token,
		User:       user,
		RedirectTo: SanitizeNext(next),
		ExpiresAt:  sess.CreatedAt.Add(s.tokenTTL),
	}, nil
}

// Logout завершает сессию, на которую указывает principal.
func (s *Service) Logout(ctx context.Context, principal *models.Principal) error {
	const op = "services.auth.Logout"
	if principal == nil {
		return fmt.Errorf("%s: %w", op, models.ErrNotAuthenticated)
	}
	if err := s.sessions.Delete(ctx, principal.SessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Authenticate проверяет токен и наличие сессии.
// Недействительный токен или завершённая сессия дают models.ErrNotAuthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Principal, error) {
	const op = "services.auth.Authenticate"

	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrNotAuthenticated, err)
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID())
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotAuthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess.UserID != claims.UserID {
		return nil, fmt.Errorf("%s: %w: session owner mismatch", op, models.ErrNotAuthenticated)
	}
	return &models.Principal{
		UserID:    sess.UserID,
		Email:     sess.Email,
		SessionID: sess.ID,
	}, nil
}

// CurrentUser возвращает пользователя текущей сессии.
func (s *Service) CurrentUser(ctx context.Context, principal *models.Principal) (*models.User, error) {
	const op = "services.auth.CurrentUser"
	if principal == nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotAuthenticated)
	}
	user, err := s.users.GetUserByID(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// SanitizeNext оставляет только относительный путь внутри сайта.
// Пустые, абсолютные и protocol-relative адреса заменяются на "/".
func SanitizeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}
