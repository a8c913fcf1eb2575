// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "strct_hosts"

// Metrics groups the collectors updated by the pipeline. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	bytesFetched prometheus.Counter
	sources      prometheus.Counter
	skippedLines prometheus.Counter
	hostnames    prometheus.Gauge
	redirections prometheus.Gauge
	lastSuccess  prometheus.Gauge
	inFlight     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by kind (apply, revert) and outcome.",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes downloaded from hosts sources.",
		}),
		sources: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_sources_total",
			Help:      "Hosts sources downloaded successfully.",
		}),
		skippedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_lines_total",
			Help:      "Malformed lines dropped by the parser.",
		}),
		hostnames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocked_hostnames",
			Help:      "Hostnames redirected to the default ip by the last installed file.",
		}),
		redirections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redirections",
			Help:      "Custom redirections in the last installed file.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful install.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a run is executing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.bytesFetched, m.sources,
			m.skippedLines, m.hostnames, m.redirections, m.lastSuccess, m.inFlight)
	}
	return m
}

// Started marks a run as in flight.
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Set(1)
}

// Finished records the outcome of a run of the given kind.
func (m *Metrics) Finished(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Set(0)
	m.runs.WithLabelValues(kind, outcome).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
	if outcome == "success" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Fetched records a completed download.
func (m *Metrics) Fetched(sources int, bytes int64) {
	if m == nil {
		return
	}
	m.sources.Add(float64(sources))
	m.bytesFetched.Add(float64(bytes))
}

// Built records the shape of a generated file.
func (m *Metrics) Built(hostnames, redirections, skipped int) {
	if m == nil {
		return
	}
	m.hostnames.Set(float64(hostnames))
	m.redirections.Set(float64(redirections))
	m.skippedLines.Add(float64(skipped))
}
