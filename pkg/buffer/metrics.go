package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinbridge/metric"
)

// ringMetrics methods are no-ops on a nil receiver so the Ring can call
// them unconditionally.
type ringMetrics struct {
	depth    prometheus.Gauge
	fill     prometheus.Gauge
	evicts   prometheus.Counter
	capacity float64
}

func newRingMetrics(registry *metric.MetricsRegistry, name string, capacity int) (*ringMetrics, error) {
	labels := prometheus.Labels{"buffer": name}
	m := &ringMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "depth",
			Help: "Items currently buffered", ConstLabels: labels,
		}),
		fill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "fill_ratio",
			Help: "Buffered items as a fraction of capacity", ConstLabels: labels,
		}),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "evictions_total",
			Help: "Items evicted to make room for newer ones", ConstLabels: labels,
		}),
		capacity: float64(capacity),
	}

	if err := registry.RegisterGauge(name, "buffer_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "buffer_fill_ratio", m.fill); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "buffer_evictions", m.evicts); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ringMetrics) resize(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
	m.fill.Set(float64(n) / m.capacity)
}

func (m *ringMetrics) evicted() {
	if m != nil {
		m.evicts.Inc()
	}
}
