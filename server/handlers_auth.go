package server

import (
	"log/slog"
	"net/http"

	"github.com/jmallard/commentcue/db"
	"github.com/jmallard/commentcue/telemetry"
)

// HandleRoot serves the root path: the OAuth callback when Google redirects
// back with a code or an error, the landing page otherwise.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	log := telemetry.LoggerWithCorr(r.Context())

	if errParam := q.Get("error"); errParam != "" {
		// Consent denied or provider error. Nothing to do but start over.
		log.Warn("oauth consent error", slog.String("error", errParam))
		h.serveLanding(w, r)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.serveLanding(w, r)
		return
	}

	ctx := r.Context()
	tok, err := h.yt.Exchange(ctx, code)
	if err != nil {
		log.Error("token exchange failed", slog.Any("err", err))
		h.serveLanding(w, r)
		return
	}

	channelID, username, err := h.yt.MyChannel(ctx, tok.AccessToken)
	if err != nil {
		log.Error("failed to fetch own channel", slog.Any("err", err))
		h.serveLanding(w, r)
		return
	}

	// Google only returns a refresh token on first consent (or when access
	// was revoked); without one the stored token remains valid.
	if tok.RefreshToken != "" {
		if err := db.UpsertUser(ctx, h.db, channelID, username, tok.RefreshToken); err != nil {
			log.Error("user upsert failed", slog.Any("err", err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	sessionToken, err := h.sessions.Issue(channelID, username)
	if err != nil {
		log.Error("session issue failed", slog.Any("err", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.sessions.SetCookie(w, sessionToken)
	if telemetry.Logins != nil {
		telemetry.Logins.Inc()
	}
	log.Info("user logged in", slog.String("user", channelID))

	h.servePage(w, r, createPage, nil)
}
