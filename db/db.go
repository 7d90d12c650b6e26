// Package db provides the Postgres connection, schema migrations, and data
// access helpers for users, channels, and queued comments.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/jmallard/commentcue/crypto"
)

var (
	// encryptor guards refresh tokens at rest; nil when ENCRYPTION_KEY is unset.
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, refresh tokens will be stored in plaintext",
				slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr),
				slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("refresh token encryption enabled (AES-256-GCM)",
			slog.String("component", "db_encryption"))
	})
}

// getEncryptor returns the process-wide encryptor, or nil when encryption is
// not configured.
func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection for the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}
