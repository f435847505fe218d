package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounterRegistersOnceAndIgnoresBadLabels(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New("courtesy", "", reg)

	c := r.Counter("outcomes_published_total", "help", "topic", "status", "result")
	again := r.Counter("outcomes_published_total", "help", "topic", "status", "result")

	c.Add(1, observability.L("topic", "cortesia-erro"), observability.L("status", "DELIVERY_ERROR"), observability.L("result", "sent"))
	again.Add(1, observability.L("topic", "cortesia-erro"), observability.L("status", "DELIVERY_ERROR"), observability.L("result", "sent"))
	c.Add(1, observability.L("topic", "missing-labels"))

	vec := r.(*registry).counters["outcomes_published_total"]
	require.Equal(t, 2.0, testutil.ToFloat64(vec.WithLabelValues("cortesia-erro", "DELIVERY_ERROR", "sent")))
	require.Equal(t, 1, testutil.CollectAndCount(vec))
}

func TestHistogramDefaultsBuckets(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New("", "", reg)
	h := r.Histogram("usecase_duration_seconds", "help", nil, "use_case")
	h.Observe(0.2, observability.L("use_case", "dispatch.process"))

	count, err := testutil.GatherAndCount(reg, "usecase_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
