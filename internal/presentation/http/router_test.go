package httppresentation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedLabels struct {
	mu   sync.Mutex
	seen [][]observability.Label
}

func (r *recordedLabels) Add(_ float64, labels ...observability.Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, labels)
}

func (r *recordedLabels) Observe(v float64, labels ...observability.Label) { r.Add(v, labels...) }

type testMetrics struct {
	requests  *recordedLabels
	durations *recordedLabels
}

func (m testMetrics) Counter(name observability.MetricKey) observability.Counter {
	if name == observability.MHTTPRequests {
		return m.requests
	}
	return observability.NopCounter()
}

func (m testMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if name == observability.MHTTPRequestDuration {
		return m.durations
	}
	return observability.NopHistogram()
}

type testTelemetry struct{ metrics testMetrics }

func (t testTelemetry) Tracer() observability.Tracer   { return observability.NopTracer() }
func (t testTelemetry) Logger() observability.Logger   { return observability.NopLogger() }
func (t testTelemetry) Metrics() observability.Metrics { return t.metrics }

func newTestTelemetry() testTelemetry {
	return testTelemetry{metrics: testMetrics{requests: &recordedLabels{}, durations: &recordedLabels{}}}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewHandler(nil, nil, nil).Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	t.Parallel()

	healthy := true
	checks := map[string]Check{
		"producer": func() bool { return healthy },
		"consumer": func() bool { return true },
	}
	router := NewHandler(checks, nil, nil).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, []string{"producer"}, body.Failed)
	assert.True(t, body.Checks["consumer"])
}

func TestMetricsEndpointMountedWhenGiven(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	router := NewHandler(nil, metrics, nil).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = httptest.NewRecorder()
	NewHandler(nil, nil, nil).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	router := NewHandler(nil, nil, tel).Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	seen := tel.metrics.requests.seen
	require.Len(t, seen, 2)
	assert.Equal(t, []observability.Label{
		observability.L("method", "GET"), observability.L("route", "/healthz"), observability.L("status", "200"),
	}, seen[0])
	assert.Equal(t, observability.L("route", "unmatched"), seen[1][1])
	assert.Equal(t, observability.L("status", "404"), seen[1][2])
	assert.Len(t, tel.metrics.durations.seen, 2)
}
