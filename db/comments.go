package db

import (
	"context"
	"database/sql"
	"fmt"
)

// QueuedComment is one pending queue entry drained by the poll job.
type QueuedComment struct {
	Comment string
	UserID  string
}

// InsertComment queues a comment for a channel's next upload. Inserted
// unconditionally: a user may queue several comments for the same channel
// and duplicates are preserved.
func InsertComment(ctx context.Context, database *sql.DB, comment, userID, channelID string) error {
	_, err := database.ExecContext(ctx, `
		INSERT INTO comments (comment, user_id, channel_id)
		VALUES ($1, $2, $3)`,
		comment, userID, channelID)
	if err != nil {
		return fmt.Errorf("insert comment for channel %s: %w", channelID, err)
	}
	return nil
}

// DrainComments deletes and returns every queued comment for a channel in a
// single statement, ordered by insertion so per-user ordering survives the
// later grouping. DELETE ... RETURNING alone has no defined order, hence the
// CTE with an explicit ORDER BY.
func DrainComments(ctx context.Context, database *sql.DB, channelID string) ([]QueuedComment, error) {
	rows, err := database.QueryContext(ctx, `
		WITH drained AS (
			DELETE FROM comments WHERE channel_id = $1
			RETURNING id, comment, user_id
		)
		SELECT comment, user_id FROM drained ORDER BY id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("drain comments for channel %s: %w", channelID, err)
	}
	defer rows.Close()
	var drained []QueuedComment
	for rows.Next() {
		var c QueuedComment
		if err := rows.Scan(&c.Comment, &c.UserID); err != nil {
			return nil, fmt.Errorf("scan drained comment: %w", err)
		}
		drained = append(drained, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drain comments for channel %s: %w", channelID, err)
	}
	return drained, nil
}

// CountComments reports how many comments are queued for a channel.
func CountComments(ctx context.Context, database *sql.DB, channelID string) (int, error) {
	var n int
	err := database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE channel_id = $1`, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count comments for channel %s: %w", channelID, err)
	}
	return n, nil
}
