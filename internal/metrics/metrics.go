package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec
	CacheSize      prometheus.Gauge
	OracleQueries  *prometheus.CounterVec
	SessionChanges *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "client_cache",
			Name:      "hits_total",
			Help:      "Session client cache lookups served from memory.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "client_cache",
			Name:      "misses_total",
			Help:      "Session client cache lookups that required rehydration.",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "client_cache",
			Name:      "evictions_total",
			Help:      "Session client cache evictions by reason.",
		}, []string{"reason"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyward",
			Subsystem: "client_cache",
			Name:      "entries",
			Help:      "Session clients currently cached.",
		}),
		OracleQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "oracle",
			Name:      "queries_total",
			Help:      "On-chain session status queries by result.",
		}, []string{"result"}),
		SessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session record state changes by target status.",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyward",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyward",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheSize,
			m.OracleQueries, m.SessionChanges, m.HTTPRequests, m.HTTPDuration,
		)
	}
	return m
}

// Nop returns unregistered collectors for tests and tools
func Nop() *Metrics {
	return New(nil)
}
