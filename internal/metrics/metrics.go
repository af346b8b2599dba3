package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MultiBridge/internal/events"
)

const namespace = "multibridge"

// Metrics exposes engine activity as Prometheus series.
// It observes the event bus and is told about rejections by the transport.
type Metrics struct {
	registry *prometheus.Registry

	attestations prometheus.Counter     // attestations counts recorded attestations
	executions   prometheus.Counter     // executions counts executed messages
	rejections   *prometheus.CounterVec // rejections counts failed receives by error kind
	configs      *prometheus.CounterVec // configs counts governance changes by event kind
	totalWeight  prometheus.Gauge       // totalWeight is the current registry total
	threshold    prometheus.Gauge       // threshold is the current quorum percentage
}

// New creates a Metrics with its own registry, including Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attestations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_total",
			Help:      "Attestations counted toward quorum.",
		}),
		executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Messages executed after reaching quorum.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Attestations rejected, by error kind.",
		}, []string{"kind"}),
		configs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_changes_total",
			Help:      "Registry and threshold changes, by event kind.",
		}, []string{"kind"}),
		totalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_weight",
			Help:      "Sum of registered source weights.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_percent",
			Help:      "Quorum threshold as a percentage of total weight.",
		}),
	}

	m.registry.MustRegister(
		m.attestations,
		m.executions,
		m.rejections,
		m.configs,
		m.totalWeight,
		m.threshold,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Observe updates series from an engine event.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Kind {
	case events.AttestationReceived:
		m.attestations.Inc()

	case events.MessageExecuted:
		m.executions.Inc()

	case events.SourceWeightChanged:
		m.configs.WithLabelValues(ev.Kind.String()).Inc()
		m.totalWeight.Set(float64(ev.TotalWeight))

	case events.ThresholdChanged:
		m.configs.WithLabelValues(ev.Kind.String()).Inc()
		m.threshold.Set(float64(ev.Threshold))

	case events.OriginChanged:
		m.configs.WithLabelValues(ev.Kind.String()).Inc()
	}
}

// Reject counts a failed receive of the given kind.
func (m *Metrics) Reject(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

// SetConfig sets the gauges from loaded state, before any event is seen.
func (m *Metrics) SetConfig(totalWeight, threshold uint64) {
	m.totalWeight.Set(float64(totalWeight))
	m.threshold.Set(float64(threshold))
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
