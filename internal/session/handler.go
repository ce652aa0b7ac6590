package session

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey struct{}

// WithToken returns a context carrying the raw session token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// TokenFromContext returns the session token placed by Middleware, if any.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware copies the session cookie into the request context. It never
// rejects a request; resolving who the caller is happens downstream.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
			r = r.WithContext(WithToken(r.Context(), c.Value))
		}
		next.ServeHTTP(w, r)
	})
}

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Logout finishes the current browser session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := TokenFromContext(r.Context()); token != "" {
		if err := h.svc.Finish(r.Context(), token); err != nil {
			h.logger.Warnw("finish session failed", "err", err)
			http.Error(w, "server_error", http.StatusInternalServerError)
			return
		}
	}
	http.SetCookie(w, h.svc.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}
