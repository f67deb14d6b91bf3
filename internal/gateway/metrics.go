package gateway

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report gateway activity.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	actionOutcomes  *prometheus.CounterVec
	streamsActive   prometheus.Gauge
	relayedBytes    prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the gateway is instantiated
// multiple times (e.g. in unit tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers that need unique metric names (tests) supply a fresh registry. Any
// registration error other than duplicate registration panics, surfacing
// configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end handling time per request mode and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode", "status"},
	)
	actionOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "action_outcomes_total",
			Help:      "Dispatched model actions by tool and outcome code.",
		},
		[]string{"tool", "outcome"},
	)
	streamsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "streams_active",
			Help:      "Provider streams currently being relayed.",
		},
	)
	relayedBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "relayed_bytes_total",
			Help:      "Raw provider stream bytes forwarded downstream.",
		},
	)

	collectors := []prometheus.Collector{requestDuration, actionOutcomes, streamsActive, relayedBytes}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector.(type) {
				case *prometheus.HistogramVec:
					requestDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					actionOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
				case prometheus.Gauge:
					streamsActive = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					relayedBytes = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		requestDuration: requestDuration,
		actionOutcomes:  actionOutcomes,
		streamsActive:   streamsActive,
		relayedBytes:    relayedBytes,
	}
}

// ObserveRequest records the handling time of one request.
func (m *Metrics) ObserveRequest(mode, status string, duration time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// IncActionOutcome counts one dispatched action outcome.
func (m *Metrics) IncActionOutcome(tool, outcome string) {
	if m == nil || m.actionOutcomes == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(tool, outcome).Inc()
}

// IncActiveStreams marks a relay as started.
func (m *Metrics) IncActiveStreams() {
	if m == nil || m.streamsActive == nil {
		return
	}
	m.streamsActive.Inc()
}

// DecActiveStreams marks a relay as finished.
func (m *Metrics) DecActiveStreams() {
	if m == nil || m.streamsActive == nil {
		return
	}
	m.streamsActive.Dec()
}

// AddRelayedBytes accounts forwarded stream bytes.
func (m *Metrics) AddRelayedBytes(n int) {
	if m == nil || m.relayedBytes == nil {
		return
	}
	m.relayedBytes.Add(float64(n))
}
