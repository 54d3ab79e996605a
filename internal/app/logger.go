package app

import (
	"io"
	"log/slog"
)

// buildLogger assembles the app's slog instance writing to outW. The global
// default is left alone so concurrent App instances keep separate streams.
func buildLogger(level, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
