// Package logger_test contains tests for the logger package
package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/platform/logger"
)

// TestSetupReturnsConfiguredLogger verifies the logger honors the configured
// level and is installed as the process default.
func TestSetupReturnsConfiguredLogger(t *testing.T) {
	testCases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			log, err := logger.Setup(config.ServerConfig{LogLevel: tc.level})

			require.NoError(t, err, "Setup should succeed for level %q", tc.level)
			require.NotNil(t, log, "Setup should return the logger it installs")

			ctx := context.Background()
			assert.True(t, log.Enabled(ctx, tc.enabled), "level %q should be enabled", tc.level)
			assert.False(t, log.Enabled(ctx, tc.muted), "levels below %q should be muted", tc.level)
			assert.Same(t, log, slog.Default(), "Setup should install the logger as default")
		})
	}
}

// TestSetupInvalidLevelFallsBack verifies unknown levels degrade to info
// instead of failing startup.
func TestSetupInvalidLevelFallsBack(t *testing.T) {
	log, err := logger.Setup(config.ServerConfig{LogLevel: "verbose"})

	require.NoError(t, err, "invalid level should not be fatal")
	require.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}
