package web

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/viewer"
)

// HomeHandler serves the account landing page, the "back" target of the
// reset flow.
type HomeHandler struct {
	pages    *Renderer
	viewers  viewer.Query
	resetURL string
	logger   *zap.SugaredLogger
}

func NewHomeHandler(pages *Renderer, viewers viewer.Query, basePath string, logger *zap.SugaredLogger) *HomeHandler {
	return &HomeHandler{pages: pages, viewers: viewers, resetURL: basePath + "/reset-cross-signing", logger: logger}
}

func (h *HomeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v, err := viewer.Require(r.Context(), h.viewers)
	data := map[string]any{"Title": "Your account", "ResetURL": h.resetURL}
	switch {
	case err == nil:
		data["SignedIn"] = true
		data["ViewerID"] = v.ID
	case errors.Is(err, viewer.ErrNotFound):
	default:
		h.logger.Errorw("resolve viewer failed", "err", err)
		h.pages.Error(w, r)
		return
	}
	h.pages.Render(w, http.StatusOK, "home", data)
}
