package mux

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is the mux's additive Prometheus collector, grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's Describe/Collect pattern.
// It is pure observability: wiring it in changes no protocol behavior.
type PromMetrics struct {
	accepted     prometheus.Counter
	droppedByReason *prometheus.CounterVec
	archiveErrors   *prometheus.CounterVec
	subscribers     prometheus.Gauge

	mu sync.Mutex
}

// NewPromMetrics constructs the collector; callers register it with a
// prometheus.Registry and serve it over an optional loopback HTTP listener.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symux",
			Name:      "packets_accepted_total",
			Help:      "Packets that passed verification and authorization.",
		}),
		droppedByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symux",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped, labeled by reason.",
		}, []string{"reason"}),
		archiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symux",
			Name:      "archive_errors_total",
			Help:      "Archive write failures, labeled by series.",
		}, []string{"series"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "symux",
			Name:      "fanout_subscribers",
			Help:      "Currently connected fan-out subscribers.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *PromMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.accepted.Describe(ch)
	m.droppedByReason.Describe(ch)
	m.archiveErrors.Describe(ch)
	m.subscribers.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PromMetrics) Collect(ch chan<- prometheus.Metric) {
	m.accepted.Collect(ch)
	m.droppedByReason.Collect(ch)
	m.archiveErrors.Collect(ch)
	m.subscribers.Collect(ch)
}

func (m *PromMetrics) IncAccepted() { m.accepted.Inc() }

func (m *PromMetrics) IncDropped(reason string) {
	m.droppedByReason.WithLabelValues(reason).Inc()
}

func (m *PromMetrics) IncArchiveError(series string) {
	m.archiveErrors.WithLabelValues(series).Inc()
}

func (m *PromMetrics) SetSubscribers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers.Set(float64(n))
}
