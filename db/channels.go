package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Channel is a tracked YouTube channel. Latest is the watermark: the last
// video id observed by the poll job, empty until a video has been seen.
type Channel struct {
	ID     string
	Handle string
	Latest string
}

// InsertChannel records a channel the first time anyone subscribes to it.
// Idempotent on the primary key; a second subscription leaves the row as-is.
func InsertChannel(ctx context.Context, database *sql.DB, id, handle, latest string) error {
	_, err := database.ExecContext(ctx, `
		INSERT INTO channels (id, handle, latest)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		id, handle, latest)
	if err != nil {
		return fmt.Errorf("insert channel %s: %w", id, err)
	}
	return nil
}

// ListChannels returns every tracked channel.
func ListChannels(ctx context.Context, database *sql.DB) ([]Channel, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT id, handle, latest FROM channels ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Handle, &c.Latest); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// SetChannelLatest advances the watermark for a channel.
func SetChannelLatest(ctx context.Context, database *sql.DB, id, videoID string) error {
	_, err := database.ExecContext(ctx,
		`UPDATE channels SET latest = $1 WHERE id = $2`, videoID, id)
	if err != nil {
		return fmt.Errorf("update watermark for channel %s: %w", id, err)
	}
	return nil
}
