// Package metrics exports session engine activity as Prometheus metrics and
// as the preview bench log.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nodevision"

// Metrics owns its registry so several sessions (and tests) never share
// collectors.
type Metrics struct {
	registry *prometheus.Registry

	previewLatency  *prometheus.HistogramVec
	previewRenders  *prometheus.CounterVec
	autosaveLatency prometheus.Histogram
	autosaveWrites  *prometheus.CounterVec
	recoveryQueries *prometheus.CounterVec
}

type Options struct {
	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

func New(opts Options) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		previewLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "latency_seconds",
			Help:      "Preview render latency by profile",
			Buckets:   []float64{0.05, 0.1, 0.15, 0.25, 0.5, 1, 2, 5},
		}, []string{"profile"}),
		previewRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "renders_total",
			Help:      "Finished preview renders by outcome (ready, error, stale)",
		}, []string{"outcome"}),
		autosaveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "write_seconds",
			Help:      "Local autosave write latency",
			Buckets:   prometheus.DefBuckets,
		}),
		autosaveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "writes_total",
			Help:      "Local autosave writes by outcome",
		}, []string{"outcome"}),
		recoveryQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "queries_total",
			Help:      "Recovery store queries by source (local, backend) and outcome",
		}, []string{"source", "outcome"}),
	}
	m.registry.MustRegister(m.previewLatency, m.previewRenders, m.autosaveLatency, m.autosaveWrites, m.recoveryQueries)
	if opts.ProcessCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePreview(outcome, profile string, latency time.Duration) {
	m.previewRenders.WithLabelValues(outcome).Inc()
	if profile != "" {
		m.previewLatency.WithLabelValues(profile).Observe(latency.Seconds())
	}
}

func (m *Metrics) ObserveAutosave(outcome string, latency time.Duration) {
	m.autosaveWrites.WithLabelValues(outcome).Inc()
	m.autosaveLatency.Observe(latency.Seconds())
}

func (m *Metrics) ObserveRecovery(source, outcome string) {
	m.recoveryQueries.WithLabelValues(source, outcome).Inc()
}
