package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmallard/commentcue/telemetry"
)

// Page markup uses literal %%NAME%% tokens substituted at serve time.
const (
	placeholderClientID    = "%%GOOGLE_CLIENT_ID%%"
	placeholderRedirectURI = "%%GOOGLE_REDIRECT_URI%%"
	placeholderChannelName = "%%CHANNEL_NAME%%"
)

const (
	landingPage      = "index.html"
	createPage       = "create.html"
	confirmationPage = "confirmation.html"
)

// renderPage reads a page from the static dir and applies replacements.
func (h *Handlers) renderPage(name string, replacements map[string]string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(h.cfg.StaticDir, name))
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", name, err)
	}
	html := string(raw)
	for token, value := range replacements {
		html = strings.ReplaceAll(html, token, value)
	}
	return []byte(html), nil
}

// servePage writes a rendered page, or a 500 when the file cannot be read.
func (h *Handlers) servePage(w http.ResponseWriter, r *http.Request, name string, replacements map[string]string) {
	body, err := h.renderPage(name, replacements)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("page render failed", "page", name, "err", err)
		http.Error(w, "Error loading page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

// serveLanding serves the unauthenticated landing page with the OAuth client
// id and redirect URI injected.
func (h *Handlers) serveLanding(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, landingPage, map[string]string{
		placeholderClientID:    h.cfg.ClientID,
		placeholderRedirectURI: h.cfg.RedirectURL,
	})
}
