// Package auth manages accounts and the token pairs that authenticate
// every other API call. Tokens are stateless HS256 JWTs; revocation is the
// only server-side state, keyed by token id.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/crypto"
	"github.com/Datify-sh/Datify/pkg/jwt"
)

const minPasswordLength = 12

// purgeInterval paces the revocation list cleanup in Run.
const purgeInterval = time.Hour

// Service issues, validates and revokes credentials.
type Service struct {
	users  repository.UserRepository
	tokens repository.TokenRepository
	cfg    config.DaemonConfig
	logger *slog.Logger
}

// New returns an auth service.
func New(users repository.UserRepository, tokens repository.TokenRepository, cfg config.DaemonConfig, logger *slog.Logger) *Service {
	return &Service{users: users, tokens: tokens, cfg: cfg, logger: logger}
}

// RegisterInput carries a signup request. Name is optional.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Session is a signed token pair plus the account it belongs to.
// ExpiresIn counts seconds until the access token lapses.
type Session struct {
	User         domain.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Register creates an account and signs it in. The first account on a
// fresh install becomes the admin.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	email := strings.TrimSpace(input.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.NewError(domain.CodeBadName, "invalid email address")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, domain.NewError(domain.CodeDuplicateName, "an account with email %q already exists", email)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.WrapError(domain.CodeStoreError, err, "look up email")
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, domain.WrapError(domain.CodeOther, err, "hash password")
	}

	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "count users")
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(input.Name),
		Role:         role,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewError(domain.CodeDuplicateName, "an account with email %q already exists", email)
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "create user")
	}

	// Re-read for the store-assigned timestamps.
	created, err := s.users.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "load created user")
	}

	s.logger.Info("user registered", "user_id", created.ID, "role", created.Role)
	return s.issueSession(created)
}

// Login verifies credentials and returns a fresh session. Lookup and
// comparison failures collapse into one answer so the endpoint does not
// reveal which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeAuthFailed, "invalid email or password")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "look up user")
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.NewError(domain.CodeAuthFailed, "invalid email or password")
	}
	return s.issueSession(user)
}

// Refresh exchanges a live refresh token for a new pair. The used token is
// revoked, so every refresh token buys exactly one exchange.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := jwt.Parse(refreshToken, s.cfg.JWTSecret)
	if err != nil {
		return nil, domain.NewError(domain.CodeAuthFailed, "invalid or expired refresh token")
	}
	if claims.Kind != jwt.KindRefresh {
		return nil, domain.NewError(domain.CodeAuthFailed, "token is not a refresh token")
	}
	revoked, err := s.tokens.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "check revocation")
	}
	if revoked {
		return nil, domain.NewError(domain.CodeAuthFailed, "refresh token has been revoked")
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeAuthFailed, "account no longer exists")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load user")
	}
	if err := s.tokens.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "rotate refresh token")
	}
	return s.issueSession(user)
}

// Logout revokes the presented token, access or refresh alike.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := jwt.Parse(token, s.cfg.JWTSecret)
	if err != nil {
		return domain.NewError(domain.CodeAuthFailed, "invalid or expired token")
	}
	if err := s.tokens.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		return domain.WrapError(domain.CodeStoreError, err, "revoke token")
	}
	s.logger.Info("token revoked", "user_id", claims.UserID, "kind", claims.Kind)
	return nil
}

// Authorize validates an access token for the request middleware and
// returns its claims.
func (s *Service) Authorize(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := jwt.Parse(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, domain.NewError(domain.CodeAuthFailed, "invalid or expired token")
	}
	if claims.Kind != jwt.KindAccess {
		return nil, domain.NewError(domain.CodeAuthFailed, "token is not an access token")
	}
	revoked, err := s.tokens.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "check revocation")
	}
	if revoked {
		return nil, domain.NewError(domain.CodeAuthFailed, "token has been revoked")
	}
	return claims, nil
}

// Me returns the account behind an authenticated request.
func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "user not found")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load user")
	}
	return user, nil
}

// Run purges expired rows from the revocation list until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tokens.PurgeExpiredTokens(ctx, time.Now().UTC()); err != nil {
				s.logger.Warn("purge revoked tokens", "error", err)
			}
		}
	}
}

func (s *Service) issueSession(user *domain.User) (*Session, error) {
	access, err := jwt.GenerateToken(user.ID, string(user.Role), jwt.KindAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, domain.WrapError(domain.CodeOther, err, "sign access token")
	}
	refresh, err := jwt.GenerateToken(user.ID, string(user.Role), jwt.KindRefresh, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, domain.WrapError(domain.CodeOther, err, "sign refresh token")
	}
	return &Session{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// validatePassword enforces the signup strength rules: length plus one
// character from each class.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return domain.NewError(domain.CodeBadName, "password must be at least %d characters", minPasswordLength)
	}
	var upper, lower, digit, special bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return domain.NewError(domain.CodeBadName,
			"password must contain an uppercase letter, a lowercase letter, a digit and a special character")
	}
	return nil
}
