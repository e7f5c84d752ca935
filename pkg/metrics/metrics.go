// Package metrics exposes the crawl engine's per-pass instrumentation as
// Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the Scheduler and PeerSession report
// through. Construct one per process with NewMetrics and register it with
// whatever prometheus.Registerer the caller uses.
type Metrics struct {
	ClassificationTotal *prometheus.CounterVec
	AdmissionsTotal     prometheus.Counter
	SaturatedTotal      prometheus.Counter
	HandshakeRTT        prometheus.Histogram
	RetriesTotal        *prometheus.CounterVec
	TimeToFixpoint      prometheus.Histogram
	InFlightSessions    prometheus.Gauge
}

// NewMetrics builds a fresh set of collectors, namespaced under
// "atlas_crawler".
func NewMetrics() *Metrics {
	return &Metrics{
		ClassificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas_crawler",
			Name:      "classifications_total",
			Help:      "Count of PeerSession outcomes by final classification.",
		}, []string{"classification"}),
		AdmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlas_crawler",
			Name:      "admissions_total",
			Help:      "Count of endpoints admitted into the AddressBook.",
		}),
		SaturatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlas_crawler",
			Name:      "saturated_total",
			Help:      "Count of admissions rejected for exceeding the per-pass cap.",
		}),
		HandshakeRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlas_crawler",
			Name:      "handshake_rtt_seconds",
			Help:      "Time from sending version to completing the version/verack handshake.",
			Buckets:   prometheus.DefBuckets,
		}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas_crawler",
			Name:      "retries_total",
			Help:      "Count of session retries by error kind.",
		}, []string{"reason"}),
		TimeToFixpoint: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlas_crawler",
			Name:      "time_to_fixpoint_seconds",
			Help:      "Wall-clock duration of a pass from start to fix-point.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		InFlightSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "atlas_crawler",
			Name:      "in_flight_sessions",
			Help:      "Number of PeerSessions currently running.",
		}),
	}
}

// Collectors returns every collector, for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ClassificationTotal,
		m.AdmissionsTotal,
		m.SaturatedTotal,
		m.HandshakeRTT,
		m.RetriesTotal,
		m.TimeToFixpoint,
		m.InFlightSessions,
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error, matching the common prometheus idiom for
// process-lifetime singletons.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}

// ObserveFixpoint records the duration of one pass.
func (m *Metrics) ObserveFixpoint(d time.Duration) {
	m.TimeToFixpoint.Observe(d.Seconds())
}
