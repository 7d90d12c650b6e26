package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jmallard/commentcue/config"
	"github.com/jmallard/commentcue/session"
	"github.com/jmallard/commentcue/telemetry"
	"github.com/jmallard/commentcue/youtubeapi"
)

// NewMux returns the HTTP handler with all routes wired.
func NewMux(database *sql.DB, cfg *config.Config, yt *youtubeapi.Client, sessions *session.Manager) http.Handler {
	handlers := NewHandlers(database, cfg, yt, sessions)

	// One write per second with a small burst is plenty for a human filling
	// in the subscription form; it mostly exists to blunt abuse of /create.
	limiter := newIPRateLimiter(rate.Limit(1), 5)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	mux.HandleFunc("GET /{$}", handlers.HandleRoot)
	mux.Handle("POST /create", rateLimitMiddleware(http.HandlerFunc(handlers.HandleCreate), limiter))
	mux.Handle("POST /poll", pollAuth(rateLimitMiddleware(http.HandlerFunc(handlers.HandlePoll), limiter), cfg.PollToken))

	// Everything else falls through to the static assets (create.html,
	// confirmation.html, stylesheets). Placeholder tokens are only
	// substituted on the handler paths above, mirroring how the original
	// static middleware served these files verbatim.
	mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))

	// Correlation ID + tracing wrapper around every request.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORS(handler)
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context
// cancellation.
func Start(ctx context.Context, database *sql.DB, cfg *config.Config, yt *youtubeapi.Client, sessions *session.Manager) error {
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewMux(database, cfg, yt, sessions),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
