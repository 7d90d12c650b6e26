// Package dispatch implements the poll/dispatch job: detect new uploads on
// tracked channels, drain the comments queued for them, and post each comment
// on behalf of its author.
//
// The watermark for a channel is persisted before its queue is drained, so a
// detected upload is never reprocessed; the trade-off is that comments
// drained but not yet posted are lost if the run dies in between. That
// ordering is deliberate and must not be reversed.
package dispatch

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jmallard/commentcue/db"
	"github.com/jmallard/commentcue/telemetry"
	"github.com/jmallard/commentcue/youtubeapi"
)

// UserComments holds one user's queued comments for a task, in the order
// they were submitted.
type UserComments struct {
	UserID   string
	Comments []string
}

// Task is one channel with a newly detected upload and the comments to post
// to it, grouped by submitting user in first-seen order.
type Task struct {
	ChannelID string
	VideoID   string
	Comments  []UserComments
}

// Report summarizes a completed run.
type Report struct {
	ChannelsPolled int `json:"channels_polled"`
	NewUploads     int `json:"new_uploads"`
	CommentsPosted int `json:"comments_posted"`
	CommentsFailed int `json:"comments_failed"`
}

// Run executes one poll/dispatch cycle to completion or first fatal failure.
// Channels and tasks are processed strictly sequentially. A latest-video
// fetch failure or a token refresh failure aborts the whole run; a failed
// comment post is logged and the run continues.
func Run(ctx context.Context, database *sql.DB, yt *youtubeapi.Client) (*Report, error) {
	start := time.Now()
	log := telemetry.LoggerWithCorr(ctx)
	report := &Report{}
	if telemetry.PollRuns != nil {
		telemetry.PollRuns.Inc()
	}

	channels, err := db.ListChannels(ctx, database)
	if err != nil {
		return nil, fail(err)
	}
	telemetry.SetTrackedChannels(len(channels))

	// Phase 1: detect new uploads and advance watermarks.
	var tasks []*Task
	for _, ch := range channels {
		videoID, err := yt.LatestVideoID(ctx, ch.ID)
		if err != nil {
			log.Error("latest video fetch failed, aborting run",
				slog.String("channel", ch.ID), slog.Any("err", err))
			return nil, fail(err)
		}
		report.ChannelsPolled++
		if telemetry.ChannelsPolled != nil {
			telemetry.ChannelsPolled.Inc()
		}
		if videoID == ch.Latest {
			continue
		}
		tasks = append(tasks, &Task{ChannelID: ch.ID, VideoID: videoID})
		// Persist the watermark before the queue is drained (see package doc).
		if err := db.SetChannelLatest(ctx, database, ch.ID, videoID); err != nil {
			return nil, fail(err)
		}
		report.NewUploads++
		if telemetry.NewUploads != nil {
			telemetry.NewUploads.Inc()
		}
		log.Info("new upload detected",
			slog.String("channel", ch.ID),
			slog.String("video", videoID),
			slog.String("previous", ch.Latest))
	}

	// Phase 2: drain each task's queue, grouping by user.
	for _, task := range tasks {
		drained, err := db.DrainComments(ctx, database, task.ChannelID)
		if err != nil {
			return nil, fail(err)
		}
		task.Comments = groupByUser(drained)
	}

	// Phase 3: post, refreshing each user's access token at most once per run.
	accessTokens := make(map[string]string)
	for _, task := range tasks {
		for _, uc := range task.Comments {
			token, ok := accessTokens[uc.UserID]
			if !ok {
				refreshToken, err := db.GetRefreshToken(ctx, database, uc.UserID)
				if err != nil {
					return nil, fail(err)
				}
				token, err = yt.RefreshAccessToken(ctx, refreshToken)
				if err != nil {
					log.Error("token refresh failed, aborting run",
						slog.String("user", uc.UserID), slog.Any("err", err))
					return nil, fail(err)
				}
				accessTokens[uc.UserID] = token
				if telemetry.TokenRefreshes != nil {
					telemetry.TokenRefreshes.Inc()
				}
			}
			for _, text := range uc.Comments {
				if err := yt.PostComment(ctx, token, task.ChannelID, task.VideoID, text); err != nil {
					report.CommentsFailed++
					if telemetry.CommentsFailed != nil {
						telemetry.CommentsFailed.Inc()
					}
					log.Warn("comment post failed",
						slog.String("user", uc.UserID),
						slog.String("channel", task.ChannelID),
						slog.String("video", task.VideoID),
						slog.Any("err", err))
					continue
				}
				report.CommentsPosted++
				if telemetry.CommentsPosted != nil {
					telemetry.CommentsPosted.Inc()
				}
				log.Info("comment posted",
					slog.String("user", uc.UserID),
					slog.String("channel", task.ChannelID),
					slog.String("video", task.VideoID))
			}
		}
	}

	if telemetry.PollRunDuration != nil {
		telemetry.PollRunDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("poll run complete",
		slog.Int("channels", report.ChannelsPolled),
		slog.Int("new_uploads", report.NewUploads),
		slog.Int("posted", report.CommentsPosted),
		slog.Int("failed", report.CommentsFailed))
	return report, nil
}

func fail(err error) error {
	if telemetry.PollRunsFailed != nil {
		telemetry.PollRunsFailed.Inc()
	}
	return err
}

// groupByUser turns the drained queue into per-user comment lists, keeping
// both the first-seen user order and each user's submission order.
func groupByUser(drained []db.QueuedComment) []UserComments {
	index := make(map[string]int)
	var grouped []UserComments
	for _, c := range drained {
		i, ok := index[c.UserID]
		if !ok {
			i = len(grouped)
			index[c.UserID] = i
			grouped = append(grouped, UserComments{UserID: c.UserID})
		}
		grouped[i].Comments = append(grouped[i].Comments, c.Comment)
	}
	return grouped
}

// StartPollJob runs Run on a fixed interval until the context is cancelled.
// Nothing serializes overlapping invocations against an external /poll
// trigger; the job relies on the interval being far longer than a run.
func StartPollJob(ctx context.Context, database *sql.DB, yt *youtubeapi.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}
	slog.Info("poll job starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := Run(ctx, database, yt); err != nil {
					slog.Error("scheduled poll run failed", slog.Any("err", err))
				}
			}
		}
	}()
}
