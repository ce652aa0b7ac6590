package resetflow

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/viewer"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/web"
)

// Handler hosts the controller over HTTP. Each request builds a controller
// around a pageHost and renders whatever the controller left in it.
type Handler struct {
	deps   Deps
	pages  *web.Renderer
	base   string
	logger *zap.SugaredLogger
}

func NewHandler(deps Deps, pages *web.Renderer, basePath string, logger *zap.SugaredLogger) *Handler {
	return &Handler{deps: deps, pages: pages, base: basePath, logger: logger}
}

// Register mounts the flow routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.path(RouteStart), h.Start)
	mux.HandleFunc("GET "+h.path(RouteSuccess), h.Success)
	mux.HandleFunc("GET "+h.path(RouteCancelled), h.Cancelled)
	mux.HandleFunc("GET "+h.path(RouteStart)+"/{flow}", h.View)
	mux.HandleFunc("POST "+h.path(RouteStart)+"/{flow}/confirm", h.Confirm)
	mux.HandleFunc("POST "+h.path(RouteStart)+"/{flow}/cancel", h.Cancel)
}

func (h *Handler) path(r Route) string { return h.base + string(r) }

// pageHost is the Host for one HTTP request. Its bridge has no direct line
// to the browser, so the completion callback arms the page script, which
// repeats the callback/opener probe in the browser when it runs.
type pageHost struct {
	snap        Snapshot
	committed   bool
	navigateTo  Route
	replace     bool
	signalArmed bool
}

func (p *pageHost) Commit(_ context.Context, snap Snapshot) {
	p.snap = snap
	p.committed = true
}

func (p *pageHost) Navigate(_ context.Context, to Route, replace bool) {
	p.navigateTo = to
	p.replace = replace
}

func (p *pageHost) Bridge() HostBridge { return pageBridge{p} }

type pageBridge struct{ host *pageHost }

func (b pageBridge) CompletionCallback() func() {
	return func() { b.host.signalArmed = true }
}

func (pageBridge) Opener() MessageTarget { return nil }

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	deepLink, _ := strconv.ParseBool(r.URL.Query().Get("deepLink"))
	host := &pageHost{}
	_, err := NewController(h.deps, host).Enter(r.Context(), EntryContext{DeepLink: deepLink})
	h.finish(w, r, host, err)
}

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	host := &pageHost{}
	_, err := NewController(h.deps, host).View(r.Context(), r.PathValue("flow"))
	h.finish(w, r, host, err)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	host := &pageHost{}
	_, err := NewController(h.deps, host).Confirm(r.Context(), r.PathValue("flow"))
	h.finish(w, r, host, err)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	host := &pageHost{}
	_, err := NewController(h.deps, host).Cancel(r.Context(), r.PathValue("flow"))
	h.finish(w, r, host, err)
}

func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, http.StatusOK, "success", map[string]any{"Title": "Identity reset allowed"})
}

func (h *Handler) Cancelled(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, http.StatusOK, "cancelled", map[string]any{"Title": "Identity reset cancelled"})
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, host *pageHost, err error) {
	switch {
	case err == nil:
	case errors.Is(err, viewer.ErrNotFound):
		h.pages.NotFound(w, r)
		return
	case errors.Is(err, context.Canceled):
		h.logger.Debugw("reset flow request abandoned", "path", r.URL.Path)
		return
	default:
		h.logger.Errorw("reset flow request failed", "path", r.URL.Path, "err", err)
		h.pages.Error(w, r)
		return
	}

	switch {
	case host.navigateTo != "" && host.signalArmed:
		nonce := web.Nonce(w)
		h.pages.Render(w, http.StatusOK, "completing", map[string]any{
			"Title":        "Identity reset allowed",
			"Nonce":        nonce,
			"NextURL":      h.path(host.navigateTo),
			"Callback":     CompletionCallback,
			"Token":        CompletionToken,
			"TargetOrigin": AnyOrigin,
		})
	case host.navigateTo != "":
		http.Redirect(w, r, h.path(host.navigateTo), http.StatusSeeOther)
	case host.committed:
		h.renderConfirm(w, host.snap)
	default:
		h.logger.Errorw("reset flow produced nothing to render", "path", r.URL.Path)
		h.pages.Error(w, r)
	}
}

func (h *Handler) renderConfirm(w http.ResponseWriter, snap Snapshot) {
	flowURL := h.path(RouteStart) + "/" + snap.FlowID
	data := map[string]any{
		"Title":      "Reset your identity",
		"Nonce":      web.Nonce(w),
		"ConfirmURL": flowURL + "/confirm",
		"CancelURL":  flowURL + "/cancel",
		"DeepLink":   snap.Entry.DeepLink,
		"Disabled":   snap.ConfirmDisabled(),
	}
	if snap.Request.Status == StatusFailed {
		data["Error"] = "The reset could not be allowed: " + snap.Request.ErrorDetail
	}
	if snap.State == StateSubmitting {
		data["Refresh"] = "2;url=" + flowURL
	}
	h.pages.Render(w, http.StatusOK, "confirm", data)
}
