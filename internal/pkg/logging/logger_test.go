package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerAppliesLevelAndFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "logs", "dispatch.log")
	logger, err := NewLogger(Options{Service: "courtesy-dispatch", Env: "prod", Level: "warn", File: file})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	require.FileExists(t, file)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(Options{Service: "courtesy-dispatch", Level: "loud"})
	require.Error(t, err)
}
