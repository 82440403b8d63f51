package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinbridge/metric"
)

type op int

const (
	opHit op = iota
	opMiss
	opSet
	opDelete
	opEvict
)

var opNames = [...]string{"hit", "miss", "set", "delete", "evict"}

// cacheMetrics exports one cache as twinbridge_cache_operations_total{op}
// and twinbridge_cache_entries, both labelled with the cache name. Its
// methods do nothing on a nil receiver.
type cacheMetrics struct {
	ops     [len(opNames)]prometheus.Counter
	entries prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, name string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"cache": name}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "cache",
		Name:        "operations_total",
		Help:        "Cache operations by kind: hit, miss, set, delete, evict",
		ConstLabels: labels,
	}, []string{"op"})
	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "cache",
		Name:        "entries",
		Help:        "Entries currently held",
		ConstLabels: labels,
	})

	if err := registry.RegisterCounterVec(name, "cache_operations", ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "cache_entries", entries); err != nil {
		registry.Unregister(name, "cache_operations")
		return nil, err
	}

	m := &cacheMetrics{entries: entries}
	for i, n := range opNames {
		m.ops[i] = ops.WithLabelValues(n)
	}
	return m, nil
}

func (m *cacheMetrics) inc(o op) {
	if m != nil {
		m.ops[o].Inc()
	}
}

func (m *cacheMetrics) setEntries(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
