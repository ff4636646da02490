// Package metrics exposes Prometheus collectors for the refresh engine.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ipwatch"

// Metrics holds all collectors
type Metrics struct {
	refreshes        *prometheus.CounterVec
	upstream         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	assets           *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	networkEvents    *prometheus.CounterVec
	generation       prometheus.Gauge
	ipChanges        prometheus.Counter
}

// New registers collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome",
		}, []string{"outcome"}),
		upstream: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream requests by source and status",
		}, []string{"source", "status"}),
		upstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		assets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cache_total",
			Help:      "Asset cache lookups by kind and result",
		}, []string{"kind", "result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by channel and result",
		}, []string{"channel", "result"}),
		networkEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_events_total",
			Help:      "Host signals received by kind",
		}, []string{"kind"}),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_generation",
			Help:      "Latest issued refresh generation",
		}),
		ipChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_changes_total",
			Help:      "Detected external address changes",
		}),
	}
}

// RecordRefresh records a refresh outcome
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RecordGeneration records the latest generation
func (m *Metrics) RecordGeneration(gen uint64) {
	if m == nil {
		return
	}
	m.generation.Set(float64(gen))
}

// RecordUpstream records an upstream request
func (m *Metrics) RecordUpstream(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.upstream.WithLabelValues(source, status).Inc()
	m.upstreamDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordAsset records an asset cache lookup
func (m *Metrics) RecordAsset(kind, result string) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues(kind, result).Inc()
}

// RecordNotification records a notification delivery attempt
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RecordSuppressed records a notification swallowed by the suppression window
func (m *Metrics) RecordSuppressed() {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("all", "suppressed").Inc()
}

// RecordNetworkEvent records a host signal
func (m *Metrics) RecordNetworkEvent(kind string) {
	if m == nil {
		return
	}
	m.networkEvents.WithLabelValues(kind).Inc()
}

// RecordIPChange records a detected address change
func (m *Metrics) RecordIPChange() {
	if m == nil {
		return
	}
	m.ipChanges.Inc()
}
