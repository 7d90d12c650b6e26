// Package testutil provides shared test helpers: a migrated Postgres handle
// gated on TEST_PG_DSN, and an httptest mock of the YouTube Data API and
// Google OAuth token endpoint.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmallard/commentcue/db"
)

// SetupTestDB opens the test database, runs migrations, and empties the
// service tables. Tests are skipped when TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	ctx := context.Background()
	for _, table := range []string{"comments", "channels", "users"} {
		if _, err := database.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			database.Close()
			t.Fatalf("failed to clear table %s: %v", table, err)
		}
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
