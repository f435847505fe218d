package observability

import (
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

// MetricFactory creates labelled instruments; prometrics.Registry satisfies it.
type MetricFactory interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

// New assembles an Observability provider. Every metric listed in
// observability.CounterSpecs and HistogramSpecs is created through factory;
// a nil factory yields no-op metrics.
func New(tracer observability.Tracer, logger observability.Logger, factory MetricFactory) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if factory != nil {
		m := &registeredMetrics{
			counters:   make(map[observability.MetricKey]observability.Counter, len(observability.CounterSpecs)),
			histograms: make(map[observability.MetricKey]observability.Histogram, len(observability.HistogramSpecs)),
		}
		for _, spec := range observability.CounterSpecs {
			m.counters[spec.Key] = factory.Counter(string(spec.Key), spec.Help, spec.Labels...)
		}
		for _, spec := range observability.HistogramSpecs {
			m.histograms[spec.Key] = factory.Histogram(string(spec.Key), spec.Help, nil, spec.Labels...)
		}
		metrics = m
	}

	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *provider) Tracer() observability.Tracer {
	return p.tracer
}

func (p *provider) Logger() observability.Logger {
	return p.logger
}

func (p *provider) Metrics() observability.Metrics {
	return p.metrics
}
