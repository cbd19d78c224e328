package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithIngest returns a logger with ingest run context fields attached.
// Use this for all logging within one remote's ingest cycle.
func WithIngest(runID, remoteURL string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"remote_url", remoteURL,
	)
}

// WithInstall returns a logger scoped to a single install execution.
func WithInstall(entityUID, target string) *slog.Logger {
	return slog.With(
		"entity_uid", entityUID,
		"target", target,
	)
}
