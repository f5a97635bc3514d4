package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the assembly service.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	requestDuration prometheus.Histogram
	runsTotal       *prometheus.CounterVec
	segmentsTotal   *prometheus.CounterVec
	driftMs         prometheus.Histogram
	conformSeconds  prometheus.Histogram
	activeRuns      prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assembler_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assembler_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assembler_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	})
	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assembler_runs_total",
		Help: "Assembly runs by result (success or failure)",
	}, []string{"result"})
	segmentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assembler_segments_total",
		Help: "Segments processed by outcome",
	}, []string{"outcome"})
	driftMs := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assembler_drift_ms",
		Help:    "Absolute difference between final and original duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
	})
	conformSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assembler_conform_duration_seconds",
		Help:    "Time spent in the tempo filter per conformed segment",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	activeRuns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assembler_active_runs",
		Help: "Number of assembly runs in progress",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		requestDuration,
		runsTotal,
		segmentsTotal,
		driftMs,
		conformSeconds,
		activeRuns,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		requestDuration: requestDuration,
		runsTotal:       runsTotal,
		segmentsTotal:   segmentsTotal,
		driftMs:         driftMs,
		conformSeconds:  conformSeconds,
		activeRuns:      activeRuns,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(d time.Duration) {
	m.requestDuration.Observe(d.Seconds())
}

// IncRuns counts a finished run.
func (m *Metrics) IncRuns(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// AddSegments adds n segments with the given outcome.
func (m *Metrics) AddSegments(outcome string, n int) {
	if n <= 0 {
		return
	}
	m.segmentsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveDrift records the final drift of a run.
func (m *Metrics) ObserveDrift(ms int64) {
	m.driftMs.Observe(float64(ms))
}

// ObserveConform records one tempo filter invocation.
func (m *Metrics) ObserveConform(d time.Duration) {
	m.conformSeconds.Observe(d.Seconds())
}

// SetActiveRuns sets the active runs gauge.
func (m *Metrics) SetActiveRuns(n int) {
	m.activeRuns.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
