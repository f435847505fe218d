// Package httppresentation serves the operational endpoints: liveness,
// readiness and Prometheus metrics.
package httppresentation

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Check reports whether one dependency is ready to serve.
type Check func() bool

type Handler struct {
	checks  map[string]Check
	metrics http.Handler
	tel     observability.Observability
}

// NewHandler builds the ops router. metrics may be nil, in which case
// /metrics is not mounted.
func NewHandler(checks map[string]Check, metrics http.Handler, tel observability.Observability) *Handler {
	return &Handler{checks: checks, metrics: metrics, tel: tel}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ObservabilityMiddleware(h.tel))

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
	Failed []string        `json:"failed,omitempty"`
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	resp := readyResponse{Ready: true, Checks: make(map[string]bool, len(h.checks))}
	for name, check := range h.checks {
		ok := check == nil || check()
		resp.Checks[name] = ok
		if !ok {
			resp.Ready = false
			resp.Failed = append(resp.Failed, name)
		}
	}
	sort.Strings(resp.Failed)

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
