// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "licensing"

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	sweeps           *prometheus.CounterVec
	sweepDuration    *prometheus.HistogramVec
	signals          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Broker activity queries by broker and outcome.",
		}, []string{"broker", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_cache_lookups_total",
			Help:      "Activity cache lookups by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_transitions_total",
			Help:      "License status transitions by audit action.",
		}, []string{"action"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Enforcement passes by pass and outcome.",
		}, []string{"pass", "outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of enforcement passes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"pass"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_signals_total",
			Help:      "Inbound signals by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.providerRequests, m.cacheLookups, m.transitions, m.sweeps, m.sweepDuration, m.signals)
	return m
}

func (m *Metrics) ProviderRequest(broker, outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(broker, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) Sweep(pass, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(pass, outcome).Inc()
	m.sweepDuration.WithLabelValues(pass).Observe(took.Seconds())
}

func (m *Metrics) Signal(outcome string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(outcome).Inc()
}
