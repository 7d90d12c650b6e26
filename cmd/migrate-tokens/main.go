// Command migrate-tokens encrypts stored refresh tokens in place.
//
// Rows with encryption_version=0 hold plaintext refresh tokens from before an
// ENCRYPTION_KEY was configured. This tool re-writes them as AES-256-GCM
// ciphertext (encryption_version=1) so the running service can decrypt them.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--user USER_ID]
//
// Environment Variables:
//
//	DATABASE_URL: Postgres connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmallard/commentcue/crypto"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	userFilter := flag.String("user", "", "Migrate the token for a single user id (default: all users)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		slog.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := migrateTokens(ctx, database, encryptor, *dryRun, *userFilter); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("migration completed successfully")
}

type tokenRow struct {
	UserID       string
	Username     string
	RefreshToken string
}

// migrateTokens encrypts all plaintext refresh tokens (encryption_version=0).
func migrateTokens(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, dryRun bool, userFilter string) error {
	query := `
		SELECT id, username, refresh_token
		FROM users
		WHERE encryption_version = 0
	`
	args := []any{}
	if userFilter != "" {
		query += " AND id = $1"
		args = append(args, userFilter)
	}
	query += " ORDER BY id"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query plaintext tokens: %w", err)
	}
	defer rows.Close()

	var tokens []tokenRow
	for rows.Next() {
		var token tokenRow
		if err := rows.Scan(&token.UserID, &token.Username, &token.RefreshToken); err != nil {
			return fmt.Errorf("failed to scan user row: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating user rows: %w", err)
	}

	if len(tokens) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return nil
	}

	slog.Info("found plaintext tokens to migrate",
		slog.Int("count", len(tokens)),
		slog.Bool("dry_run", dryRun))

	migrated := 0
	failed := 0
	for _, token := range tokens {
		logger := slog.With(
			slog.String("user_id", token.UserID),
			slog.String("username", token.Username))

		if dryRun {
			logger.Info("would migrate token")
			migrated++
			continue
		}

		encrypted, err := crypto.EncryptString(encryptor, token.RefreshToken)
		if err != nil {
			logger.Error("failed to encrypt token", slog.Any("error", err))
			failed++
			continue
		}

		res, err := database.ExecContext(ctx, `
			UPDATE users
			SET refresh_token = $1, encryption_version = 1, updated_at = NOW()
			WHERE id = $2 AND encryption_version = 0
		`, encrypted, token.UserID)
		if err != nil {
			logger.Error("failed to update token", slog.Any("error", err))
			failed++
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			// Row changed underneath us (service run or concurrent migration).
			logger.Warn("token already migrated, skipping")
			continue
		}

		logger.Info("migrated token")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("migrated", migrated),
		slog.Int("failed", failed),
		slog.Bool("dry_run", dryRun))

	if failed > 0 {
		return fmt.Errorf("%d token(s) failed to migrate", failed)
	}
	return nil
}
