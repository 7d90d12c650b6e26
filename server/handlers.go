// Package server exposes the HTTP surface: the OAuth landing/callback page,
// subscription intake, the poll trigger, health probes, and metrics.
package server

import (
	"database/sql"

	"github.com/jmallard/commentcue/config"
	"github.com/jmallard/commentcue/session"
	"github.com/jmallard/commentcue/youtubeapi"
)

// Handlers holds dependencies for all HTTP handlers. Everything is injected;
// there is no ambient global state.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	yt       *youtubeapi.Client
	sessions *session.Manager
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(database *sql.DB, cfg *config.Config, yt *youtubeapi.Client, sessions *session.Manager) *Handlers {
	return &Handlers{db: database, cfg: cfg, yt: yt, sessions: sessions}
}
