package zaplogger

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapCarriesFixedAndScopedFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(core), observability.F("component", "test"))

	log.With(observability.F("request_id", "REQ_1")).Warn("publish_failed",
		observability.F("error", errors.New("boom")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "publish_failed", entries[0].Message)
	require.Equal(t, "test", ctx["component"])
	require.Equal(t, "REQ_1", ctx["request_id"])
	require.Equal(t, "boom", ctx["error"])
}
