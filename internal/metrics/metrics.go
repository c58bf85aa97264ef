// v0
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
)

// Payload outcomes.
const (
	OutcomeEmitted      = "emitted"
	OutcomeEmpty        = "empty"
	OutcomeUnrecognized = "unrecognized"
	OutcomeMalformed    = "malformed"
	OutcomeRejected     = "rejected"
	OutcomeUnavailable  = "unavailable"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry          *prometheus.Registry
	payloads          *prometheus.CounterVec
	records           *prometheus.CounterVec
	sinkWrite         *prometheus.HistogramVec
	sinkErrors        *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	httpRequestsTotal *prometheus.CounterVec
}

// New registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_payloads_total",
			Help: "Payloads processed by variant and outcome.",
		}, []string{"variant", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_records_emitted_total",
			Help: "Records accepted by the sinks by variant.",
		}, []string{"variant"}),
		sinkWrite: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_sink_write_seconds",
			Help:    "Histogram of sink write durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_sink_errors_total",
			Help: "Failed sink writes.",
		}, []string{"sink"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "telemetry_breaker_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"name"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
	}
	m.registry.MustRegister(
		m.payloads,
		m.records,
		m.sinkWrite,
		m.sinkErrors,
		m.breakerState,
		m.httpRequestsTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Payload counts one processed payload.
func (m *Metrics) Payload(variant, outcome string) {
	if m == nil {
		return
	}
	m.payloads.WithLabelValues(variant, outcome).Inc()
}

// RecordsEmitted adds n records accepted for variant.
func (m *Metrics) RecordsEmitted(variant string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(variant).Add(float64(n))
}

// SinkWrite observes one sink write.
func (m *Metrics) SinkWrite(sink string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.sinkWrite.WithLabelValues(sink).Observe(elapsed.Seconds())
	if err != nil {
		m.sinkErrors.WithLabelValues(sink).Inc()
	}
}

// BreakerState is a circuitbreaker.StateListener.
func (m *Metrics) BreakerState(name string, s circuitbreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case circuitbreaker.HalfOpen:
		v = 1
	case circuitbreaker.Open:
		v = 2
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests served by next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		}
	})
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
