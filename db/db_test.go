package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres tests")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	_, _ = database.ExecContext(ctx, `DELETE FROM comments`)
	_, _ = database.ExecContext(ctx, `DELETE FROM channels`)
	_, _ = database.ExecContext(ctx, `DELETE FROM users`)
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUpsertUser(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := UpsertUser(ctx, database, "UC123", "Alice", "rt-1"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	tok, err := GetRefreshToken(ctx, database, "UC123")
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if tok != "rt-1" {
		t.Errorf("refresh token = %q, want rt-1", tok)
	}

	// Second login updates username and token in place.
	if err := UpsertUser(ctx, database, "UC123", "Alice Renamed", "rt-2"); err != nil {
		t.Fatalf("UpsertUser (conflict): %v", err)
	}
	var count int
	var username string
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Errorf("user rows = %d, want 1", count)
	}
	if err := database.QueryRowContext(ctx, `SELECT username FROM users WHERE id='UC123'`).Scan(&username); err != nil {
		t.Fatalf("select username: %v", err)
	}
	if username != "Alice Renamed" {
		t.Errorf("username = %q, want updated value", username)
	}
	tok, err = GetRefreshToken(ctx, database, "UC123")
	if err != nil {
		t.Fatalf("GetRefreshToken after upsert: %v", err)
	}
	if tok != "rt-2" {
		t.Errorf("refresh token = %q, want rt-2", tok)
	}
}

func TestInsertChannelIdempotent(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := InsertChannel(ctx, database, "UCchan", "somechannel", "v1"); err != nil {
		t.Fatalf("InsertChannel: %v", err)
	}
	// Re-registering the same channel must not touch the existing row.
	if err := InsertChannel(ctx, database, "UCchan", "renamed", "v9"); err != nil {
		t.Fatalf("InsertChannel (repeat): %v", err)
	}
	channels, err := ListChannels(ctx, database)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(channels))
	}
	if channels[0].Handle != "somechannel" || channels[0].Latest != "v1" {
		t.Errorf("channel = %+v, want original handle and watermark", channels[0])
	}
}

func TestSetChannelLatest(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := InsertChannel(ctx, database, "UCchan", "somechannel", ""); err != nil {
		t.Fatalf("InsertChannel: %v", err)
	}
	if err := SetChannelLatest(ctx, database, "UCchan", "v2"); err != nil {
		t.Fatalf("SetChannelLatest: %v", err)
	}
	channels, err := ListChannels(ctx, database)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if channels[0].Latest != "v2" {
		t.Errorf("watermark = %q, want v2", channels[0].Latest)
	}
}

func TestDrainCommentsPreservesOrder(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	if err := UpsertUser(ctx, database, "user-a", "A", "rt"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := UpsertUser(ctx, database, "user-b", "B", "rt"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := InsertChannel(ctx, database, "UCchan", "somechannel", ""); err != nil {
		t.Fatalf("InsertChannel: %v", err)
	}

	// Interleave two users; duplicates are allowed and preserved.
	for _, c := range []struct{ text, user string }{
		{"first", "user-a"},
		{"hello", "user-b"},
		{"second", "user-a"},
		{"first", "user-a"},
	} {
		if err := InsertComment(ctx, database, c.text, c.user, "UCchan"); err != nil {
			t.Fatalf("InsertComment: %v", err)
		}
	}

	drained, err := DrainComments(ctx, database, "UCchan")
	if err != nil {
		t.Fatalf("DrainComments: %v", err)
	}
	want := []QueuedComment{
		{Comment: "first", UserID: "user-a"},
		{Comment: "hello", UserID: "user-b"},
		{Comment: "second", UserID: "user-a"},
		{Comment: "first", UserID: "user-a"},
	}
	if len(drained) != len(want) {
		t.Fatalf("drained %d comments, want %d", len(drained), len(want))
	}
	for i := range want {
		if drained[i] != want[i] {
			t.Errorf("drained[%d] = %+v, want %+v", i, drained[i], want[i])
		}
	}

	// The queue is now empty; a second drain yields nothing.
	if n, err := CountComments(ctx, database, "UCchan"); err != nil || n != 0 {
		t.Errorf("CountComments after drain = %d, %v; want 0, nil", n, err)
	}
	again, err := DrainComments(ctx, database, "UCchan")
	if err != nil {
		t.Fatalf("DrainComments (empty): %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second drain returned %d comments, want 0", len(again))
	}
}
