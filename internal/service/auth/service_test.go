package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/jwt"
)

const strongPassword = "Sup3r-secret-pw!"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type stubUsers struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func newStubUsers() *stubUsers {
	return &stubUsers{byID: make(map[string]*domain.User)}
}

func (s *stubUsers) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	clone := *user
	clone.CreatedAt = time.Now().UTC()
	clone.UpdatedAt = clone.CreatedAt
	s.byID[user.ID] = &clone
	return nil
}

func (s *stubUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byID {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *stubUsers) CountUsers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID), nil
}

type stubTokens struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newStubTokens() *stubTokens {
	return &stubTokens{revoked: make(map[string]time.Time)}
}

func (s *stubTokens) RevokeToken(_ context.Context, jti, _ string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = expiresAt
	return nil
}

func (s *stubTokens) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *stubTokens) PurgeExpiredTokens(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, expiresAt := range s.revoked {
		if expiresAt.Before(now) {
			delete(s.revoked, jti)
		}
	}
	return nil
}

func newService(t *testing.T) (*Service, *stubUsers, *stubTokens) {
	t.Helper()
	users := newStubUsers()
	tokens := newStubTokens()
	cfg := config.DaemonConfig{
		JWTSecret:       "unit-test-jwt-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
	return New(users, tokens, cfg, newTestLogger()), users, tokens
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterInput{Email: "root@example.com", Password: strongPassword, Name: "Root"})
	if err != nil {
		t.Fatalf("register first: %v", err)
	}
	if first.User.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %s, want admin", first.User.Role)
	}
	if first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("expected a token pair, got %+v", first)
	}
	if first.ExpiresIn != 3600 {
		t.Fatalf("ExpiresIn = %d, want 3600", first.ExpiresIn)
	}

	second, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if second.User.Role != domain.RoleUser {
		t.Fatalf("second user role = %s, want user", second.User.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input RegisterInput
		code  domain.ErrorCode
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Password: strongPassword}, domain.CodeBadName},
		{"short password", RegisterInput{Email: "a@example.com", Password: "Ab1!"}, domain.CodeBadName},
		{"no special char", RegisterInput{Email: "a@example.com", Password: "Abcdefgh12345"}, domain.CodeBadName},
		{"no digit", RegisterInput{Email: "a@example.com", Password: "Abcdefghijk!"}, domain.CodeBadName},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.input); !domain.IsCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	if _, err := svc.Register(ctx, RegisterInput{Email: "dup@example.com", Password: strongPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Email: "dup@example.com", Password: strongPassword})
	if !domain.IsCode(err, domain.CodeDuplicateName) {
		t.Fatalf("duplicate email: expected %s, got %v", domain.CodeDuplicateName, err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword}); err != nil {
		t.Fatalf("register: %v", err)
	}

	session, err := svc.Login(ctx, "dev@example.com", strongPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := jwt.Parse(session.AccessToken, "unit-test-jwt-secret")
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Kind != jwt.KindAccess || claims.UserID != session.User.ID {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := svc.Login(ctx, "dev@example.com", "Wrong-passw0rd!"); !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("wrong password: expected AUTH_FAILED, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost@example.com", strongPassword); !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("unknown email: expected AUTH_FAILED, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	next, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == session.AccessToken {
		t.Fatal("refresh returned the same access token")
	}

	_, err = svc.Refresh(ctx, session.RefreshToken)
	if !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("reused refresh token: expected AUTH_FAILED, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Refresh(ctx, session.AccessToken)
	if !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authorize(ctx, session.AccessToken); err != nil {
		t.Fatalf("authorize before logout: %v", err)
	}
	if err := svc.Logout(ctx, session.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authorize(ctx, session.AccessToken); !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("authorize after logout: expected AUTH_FAILED, got %v", err)
	}
}

func TestAuthorizeRejectsRefreshKind(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authorize(ctx, session.RefreshToken); !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("expected AUTH_FAILED, got %v", err)
	}
	if _, err := svc.Authorize(ctx, "garbage.token.here"); !domain.IsCode(err, domain.CodeAuthFailed) {
		t.Fatalf("expected AUTH_FAILED for garbage, got %v", err)
	}
}

func TestMe(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dev@example.com", Password: strongPassword, Name: "Dev"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	user, err := svc.Me(ctx, session.User.ID)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if user.Email != "dev@example.com" || user.Name != "Dev" {
		t.Fatalf("user = %+v", user)
	}
	if _, err := svc.Me(ctx, "missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestPurgeDropsExpiredEntries(t *testing.T) {
	tokens := newStubTokens()
	now := time.Now().UTC()
	tokens.revoked["old"] = now.Add(-time.Hour)
	tokens.revoked["live"] = now.Add(time.Hour)

	if err := tokens.PurgeExpiredTokens(context.Background(), now); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := tokens.revoked["old"]; ok {
		t.Fatal("expired entry survived the purge")
	}
	if _, ok := tokens.revoked["live"]; !ok {
		t.Fatal("live entry was purged")
	}
}
