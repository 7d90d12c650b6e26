// Command commentcue is the entrypoint for the auto-comment service. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations.
//   - Optionally starts the internal poll job ticker (POLL_INTERVAL).
//   - Exposes the HTTP surface: OAuth landing/callback, subscription intake,
//     the poll trigger, health probes, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jmallard/commentcue/config"
	"github.com/jmallard/commentcue/db"
	"github.com/jmallard/commentcue/dispatch"
	"github.com/jmallard/commentcue/server"
	"github.com/jmallard/commentcue/session"
	"github.com/jmallard/commentcue/telemetry"
	"github.com/jmallard/commentcue/youtubeapi"
)

func main() {
	// Load .env if present (local dev convenience; production uses real env).
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("commentcue", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations")
	if err := db.Migrate(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	yt := youtubeapi.New(cfg)
	sessions := session.NewManager(cfg.SessionSecret, cfg.Production)

	// Internal scheduler is optional; deployments may instead hit POST /poll
	// from cron. Nothing serializes the two against each other.
	dispatch.StartPollJob(ctx, database, yt, cfg.PollInterval)

	slog.Info("starting http server", slog.String("addr", cfg.HTTPAddr))
	if err := server.Start(ctx, database, cfg, yt, sessions); err != nil {
		os.Exit(1)
	}
}
