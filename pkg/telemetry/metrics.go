// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the orchestration service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Invocation metrics
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	nodeDuration       *prometheus.HistogramVec
	nodeFailures       *prometheus.CounterVec

	// Handler process metrics
	handlerStatus   *prometheus.GaugeVec
	handlerStarts   *prometheus.CounterVec
	handlerRestarts *prometheus.CounterVec

	// Session store metrics
	cacheLookups *prometheus.CounterVec

	// Stream metrics
	streamFrames  *prometheus.CounterVec
	streamsActive prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_invocations_total",
				Help: "Total workflow invocations by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_invocation_duration_seconds",
				Help:    "End-to-end workflow invocation duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_node_duration_seconds",
				Help:    "Per-node execution duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		nodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_node_failures_total",
				Help: "Node executions degraded by a caught failure",
			},
			[]string{"node", "reason"},
		),
		handlerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentd_handler_status",
				Help: "Handler process status (1=healthy, 0=down)",
			},
			[]string{"handler"},
		),
		handlerStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_handler_starts_total",
				Help: "Handler start attempts by classification",
			},
			[]string{"handler", "result"},
		),
		handlerRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_handler_restarts_total",
				Help: "Handler restarts after a previous run",
			},
			[]string{"handler"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_session_cache_lookups_total",
				Help: "Hot-tier lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		streamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_stream_frames_total",
				Help: "Stream frames emitted by frame mode",
			},
			[]string{"mode"},
		),
		streamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_streams_active",
				Help: "Currently connected stream sessions",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.invocationsTotal,
		m.invocationDuration,
		m.nodeDuration,
		m.nodeFailures,
		m.handlerStatus,
		m.handlerStarts,
		m.handlerRestarts,
		m.cacheLookups,
		m.streamFrames,
		m.streamsActive,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInvocation records a completed workflow invocation.
func (m *Metrics) RecordInvocation(mode, outcome string, duration time.Duration) {
	m.invocationsTotal.WithLabelValues(mode, outcome).Inc()
	m.invocationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordNode records one node execution.
func (m *Metrics) RecordNode(node string, duration time.Duration) {
	m.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordNodeFailure records a node execution that was degraded.
func (m *Metrics) RecordNodeFailure(node, reason string) {
	m.nodeFailures.WithLabelValues(node, reason).Inc()
}

// UpdateHandlerStatus reflects a handler's process status.
func (m *Metrics) UpdateHandlerStatus(handler string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.handlerStatus.WithLabelValues(handler).Set(v)
}

// RecordHandlerStart records a start attempt and its classification.
func (m *Metrics) RecordHandlerStart(handler, result string) {
	m.handlerStarts.WithLabelValues(handler, result).Inc()
}

// RecordHandlerRestart records a restart of a previously-run handler.
func (m *Metrics) RecordHandlerRestart(handler string) {
	m.handlerRestarts.WithLabelValues(handler).Inc()
}

// RecordCacheLookup records a hot-tier lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordStreamFrame records an emitted stream frame.
func (m *Metrics) RecordStreamFrame(mode string) {
	m.streamFrames.WithLabelValues(mode).Inc()
}

// StreamOpened increments the active stream gauge.
func (m *Metrics) StreamOpened() {
	m.streamsActive.Inc()
}

// StreamClosed decrements the active stream gauge.
func (m *Metrics) StreamClosed() {
	m.streamsActive.Dec()
}
