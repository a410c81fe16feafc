package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogger_HonorsLevel(t *testing.T) {
	logger := setupLogger("warn", "text")
	ctx := context.Background()

	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.True(t, logger.Enabled(ctx, slog.LevelError))
}

func TestValidateFlags_LevelTableShared(t *testing.T) {
	for level := range logLevels {
		cfg := &CLIConfig{LogLevel: level, LogFormat: "json", Interval: 1}
		assert.NoError(t, validateFlags(cfg), "level %s must validate", level)
	}

	cfg := &CLIConfig{LogLevel: "verbose", LogFormat: "json", Interval: 1}
	assert.Error(t, validateFlags(cfg))
}
