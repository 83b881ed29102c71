package httpx

import (
	"net/http"
	"strings"

	"github.com/Datify-sh/Datify/internal/service/auth"
)

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := r.auth.Register(req.Context(), auth.RegisterInput{
		Email:    payload.Email,
		Password: payload.Password,
		Name:     payload.Name,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(session))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

// handleLogout revokes the presented access token and, when the body names
// one, the paired refresh token.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		// requireAuth already validated the header; treat a miss as a bug.
		r.logger.Error("bearer token missing after auth", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.auth.Logout(req.Context(), token); err != nil {
		writeDomainError(w, err)
		return
	}
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(req, &payload); err == nil {
		if refresh := strings.TrimSpace(payload.RefreshToken); refresh != "" {
			if err := r.auth.Logout(req.Context(), refresh); err != nil {
				r.logger.Warn("refresh token revocation failed", "error", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	user, err := r.auth.Me(req.Context(), actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}
