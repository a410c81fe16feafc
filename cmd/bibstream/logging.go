package main

import (
	"log/slog"
	"os"
)

// logLevels is the single source of truth for the -log-level flag; flag
// validation rejects anything not listed here.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// setupLogger builds the process logger. level and format have already
// passed flag validation.
func setupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     logLevels[level],
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
