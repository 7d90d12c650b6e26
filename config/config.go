// Package config loads environment variables and provides a typed Config used across the service.
// Required credentials (Google OAuth client, session secret, YouTube API key, database DSN)
// must be present at startup; Load fails fast and names every missing variable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Google OAuth
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Session
	SessionSecret string

	// YouTube Data API
	APIKey string

	// Database
	DatabaseURL string

	// HTTP
	HTTPAddr  string
	StaticDir string

	// Poll job
	PollInterval time.Duration // 0 disables the internal ticker; /poll stays available
	PollToken    string        // optional bearer token guarding POST /poll

	// Encryption at rest for refresh tokens (optional)
	EncryptionKey string

	// Production toggles Secure on the session cookie.
	Production bool
}

// Load reads environment variables and validates required settings.
// Optional variables get defaults; missing required ones are reported together.
func Load() (*Config, error) {
	cfg := &Config{
		ClientID:      os.Getenv("CLIENT_ID"),
		ClientSecret:  os.Getenv("CLIENT_SECRET"),
		RedirectURL:   os.Getenv("REDIRECT_URL"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		APIKey:        os.Getenv("YOUTUBE_API_KEY"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PollToken:     os.Getenv("POLL_TOKEN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		Production:    strings.EqualFold(os.Getenv("ENVIRONMENT"), "production"),
	}

	var missing []string
	for _, v := range []struct{ name, val string }{
		{"CLIENT_ID", cfg.ClientID},
		{"CLIENT_SECRET", cfg.ClientSecret},
		{"REDIRECT_URL", cfg.RedirectURL},
		{"SESSION_SECRET", cfg.SessionSecret},
		{"YOUTUBE_API_KEY", cfg.APIKey},
		{"DATABASE_URL", cfg.DatabaseURL},
	} {
		if v.val == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.StaticDir = os.Getenv("STATIC_DIR")
	if cfg.StaticDir == "" {
		cfg.StaticDir = "web/static"
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL (Go duration): %w", err)
		}
		cfg.PollInterval = d
	}

	return cfg, nil
}
