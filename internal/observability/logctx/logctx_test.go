package logctx

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (r *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), r.fields...), fields...)}
}

func TestFromOrFallsBack(t *testing.T) {
	t.Parallel()

	fallback := observability.NopLogger()
	require.Equal(t, fallback, FromOr(context.Background(), fallback))

	stored := &recordingLogger{Logger: observability.NopLogger()}
	ctx := With(context.Background(), stored)
	require.Same(t, stored, FromOr(ctx, fallback))
}

func TestEnrichStoresDerivedLogger(t *testing.T) {
	t.Parallel()

	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx, logger := Enrich(context.Background(), base, observability.F("request_id", "REQ_1"))

	got, ok := From(ctx).(*recordingLogger)
	require.True(t, ok)
	require.Same(t, logger, From(ctx))
	require.Equal(t, []observability.Field{observability.F("request_id", "REQ_1")}, got.fields)
}
