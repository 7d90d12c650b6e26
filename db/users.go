package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmallard/commentcue/crypto"
)

// encryptionVersionPlaintext and encryptionVersionAES label how the
// refresh_token column is stored for a given row.
const (
	encryptionVersionPlaintext = 0
	encryptionVersionAES       = 1
)

// UpsertUser inserts a user keyed by YouTube channel id, or updates the
// username and refresh token on conflict. Called on every successful login.
func UpsertUser(ctx context.Context, database *sql.DB, id, username, refreshToken string) error {
	enc, err := getEncryptor()
	if err != nil {
		return err
	}
	version := encryptionVersionPlaintext
	stored := refreshToken
	if enc != nil {
		stored, err = crypto.EncryptString(enc, refreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version = encryptionVersionAES
	}
	_, err = database.ExecContext(ctx, `
		INSERT INTO users (id, username, refresh_token, encryption_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			refresh_token = EXCLUDED.refresh_token,
			encryption_version = EXCLUDED.encryption_version,
			updated_at = NOW()`,
		id, username, stored, version)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", id, err)
	}
	return nil
}

// GetRefreshToken returns the stored refresh token for a user, decrypting it
// when the row was written with encryption enabled.
func GetRefreshToken(ctx context.Context, database *sql.DB, userID string) (string, error) {
	var token string
	var version int
	err := database.QueryRowContext(ctx,
		`SELECT refresh_token, encryption_version FROM users WHERE id = $1`, userID).
		Scan(&token, &version)
	if err != nil {
		return "", fmt.Errorf("load refresh token for user %s: %w", userID, err)
	}
	if version == encryptionVersionPlaintext {
		return token, nil
	}
	enc, err := getEncryptor()
	if err != nil {
		return "", err
	}
	if enc == nil {
		return "", fmt.Errorf("user %s has encrypted refresh token but ENCRYPTION_KEY is not set", userID)
	}
	plain, err := crypto.DecryptString(enc, token)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token for user %s: %w", userID, err)
	}
	return plain, nil
}
