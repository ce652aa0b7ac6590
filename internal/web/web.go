// Package web renders the server-side pages of the account surface.
package web

import (
	"bytes"
	"crypto/rand"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

type Renderer struct {
	pages  map[string]*template.Template
	logger *zap.SugaredLogger
}

var pageNames = []string{"confirm", "completing", "success", "cancelled", "home", "notfound", "error"}

func NewRenderer(logger *zap.SugaredLogger) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Nonce sets a Content-Security-Policy allowing inline scripts carrying the
// returned nonce and nothing else.
func Nonce(w http.ResponseWriter) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	nonce := base64.RawStdEncoding.EncodeToString(b)
	w.Header().Set("Content-Security-Policy",
		"default-src 'self'; script-src 'nonce-"+nonce+"'; object-src 'none'; base-uri 'self'; form-action 'self';")
	return nonce
}

// Render executes the named page into a buffer first so a template error
// never leaves a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data map[string]any) {
	t, ok := r.pages[name]
	if !ok {
		r.logger.Errorw("unknown page", "page", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Errorw("render page failed", "page", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (r *Renderer) NotFound(w http.ResponseWriter, _ *http.Request) {
	r.Render(w, http.StatusNotFound, "notfound", map[string]any{"Title": "Page not found"})
}

func (r *Renderer) Error(w http.ResponseWriter, _ *http.Request) {
	r.Render(w, http.StatusInternalServerError, "error", map[string]any{"Title": "Something went wrong"})
}
