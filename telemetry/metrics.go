// Package telemetry provides Prometheus metrics, correlation-id aware
// logging helpers, and optional OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollRuns          prometheus.Counter
	PollRunsFailed    prometheus.Counter
	ChannelsPolled    prometheus.Counter
	NewUploads        prometheus.Counter
	CommentsPosted    prometheus.Counter
	CommentsFailed    prometheus.Counter
	TokenRefreshes    prometheus.Counter
	Logins            prometheus.Counter
	SubscriptionsMade prometheus.Counter

	// Histograms (seconds)
	PollRunDuration prometheus.Observer

	// Gauges
	TrackedChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_poll_runs_total", Help: "Number of poll/dispatch runs started"})
		PollRunsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_poll_runs_failed_total", Help: "Number of poll/dispatch runs aborted by a fatal error"})
		ChannelsPolled = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_channels_polled_total", Help: "Number of channel latest-video lookups performed"})
		NewUploads = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_new_uploads_total", Help: "Number of watermark changes detected"})
		CommentsPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_comments_posted_total", Help: "Number of comments posted successfully"})
		CommentsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_comments_failed_total", Help: "Number of comment posts that failed"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_token_refreshes_total", Help: "Number of refresh-token grants performed"})
		Logins = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_logins_total", Help: "Number of successful OAuth logins"})
		SubscriptionsMade = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcue_subscriptions_total", Help: "Number of comment subscriptions created"})
		PollRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "commentcue_poll_run_duration_seconds", Help: "Poll/dispatch run duration seconds", Buckets: prometheus.DefBuckets})
		TrackedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcue_tracked_channels", Help: "Number of channels currently tracked"})
	})
}

// SetTrackedChannels records the current tracked channel count.
func SetTrackedChannels(n int) {
	if TrackedChannelsGauge != nil {
		TrackedChannelsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or the empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger carrying the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
