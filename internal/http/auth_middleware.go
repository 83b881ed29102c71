package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Datify-sh/Datify/internal/domain"
)

type authContextKey string

type authInfo struct {
	Actor domain.Actor
}

const contextKeyAuth authContextKey = "datify-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking
// the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeAuthFailed, "authentication required", nil)
		return req.Context(), authInfo{}, false
	}
	return r.authorizeToken(w, req, token)
}

// ensureStreamAuth accepts the bearer header or a token query parameter.
// Browser WebSocket clients cannot set headers, so streams fall back to
// ?token= the way the REST endpoints never do.
func (r *Router) ensureStreamAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		token = strings.TrimSpace(req.URL.Query().Get("token"))
	}
	if token == "" {
		r.logger.Warn("stream credentials missing", "path", req.URL.Path)
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeAuthFailed, "authentication required", nil)
		return req.Context(), authInfo{}, false
	}
	return r.authorizeToken(w, req, token)
}

func (r *Router) authorizeToken(w http.ResponseWriter, req *http.Request, token string) (context.Context, authInfo, bool) {
	claims, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeErrorCode(w, http.StatusUnauthorized, domain.CodeAuthFailed, "authentication failed", nil)
		return req.Context(), authInfo{}, false
	}
	info := authInfo{Actor: domain.Actor{UserID: claims.UserID, Admin: claims.Role == domain.RoleAdmin}}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
