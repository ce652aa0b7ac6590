package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

// SessionIssuer starts a browser session for an authenticated user and
// returns the cookie carrying it.
type SessionIssuer interface {
	Issue(ctx context.Context, view *entity.MinimalAuthView) (*http.Cookie, error)
}

// Handler exposes HTTP endpoints for user operations (login).
type Handler struct {
	svc      *UserService
	sessions SessionIssuer
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions SessionIssuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse is returned alongside the session cookie.
type LoginResponse struct {
	ID       string  `json:"id"`
	Username *string `json:"username,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	view, err := h.svc.AuthenticatePassword(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		switch {
		case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrMustResetPassword):
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		case errors.Is(err, ErrLocked):
			h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account locked"})
		case errors.Is(err, ErrDisabled):
			h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account disabled"})
		default:
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		}
		return
	}
	cookie, err := h.sessions.Issue(r.Context(), view)
	if err != nil {
		h.logger.Warnw("issue session failed", "user_id", view.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	http.SetCookie(w, cookie)
	h.writeJSON(w, http.StatusOK, LoginResponse{ID: NodeID(view.ID), Username: view.Username})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
