// Package metric holds the Prometheus collectors exported on /metrics.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowbot"

// Metrics contains all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns             *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	Classifications   *prometheus.CounterVec
	ClassifyDuration  prometheus.Histogram
	ConfigUploads     *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	FramesRejected    *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "turns_total",
				Help:      "Engine turns by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "turn_duration_seconds",
				Help:      "Engine turn duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intent",
				Name:      "classifications_total",
				Help:      "Intent classifications by outcome",
			},
			[]string{"outcome"},
		),

		ClassifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "intent",
				Name:      "classify_duration_seconds",
				Help:      "Intent classification latency in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		ConfigUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "uploads_total",
				Help:      "Flow configuration uploads by status",
			},
			[]string{"status"},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "active_connections",
				Help:      "Open conversational connections",
			},
		),

		FramesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "frames_rejected_total",
				Help:      "Inbound frames rejected before reaching the engine",
			},
			[]string{"reason"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Turns,
		m.TurnDuration,
		m.Classifications,
		m.ClassifyDuration,
		m.ConfigUploads,
		m.ActiveConnections,
		m.FramesRejected,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordTurn counts a finished engine turn and its latency.
func (m *Metrics) RecordTurn(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(operation, outcome).Inc()
	m.TurnDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordClassification counts a classification outcome and its latency.
func (m *Metrics) RecordClassification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(outcome).Inc()
	m.ClassifyDuration.Observe(d.Seconds())
}

// RecordConfigUpload counts a flow upload attempt.
func (m *Metrics) RecordConfigUpload(status string) {
	if m == nil {
		return
	}
	m.ConfigUploads.WithLabelValues(status).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordRejectedFrame counts an inbound frame dropped at the gateway.
func (m *Metrics) RecordRejectedFrame(reason string) {
	if m == nil {
		return
	}
	m.FramesRejected.WithLabelValues(reason).Inc()
}
