package synchronizer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinbridge/metric"
)

// registerStats exports the Stats counters as counter funcs so the
// registry reads the same values the reporter logs.
func registerStats(registry *metric.MetricsRegistry, stats *Stats) error {
	counters := map[string]prometheus.CounterFunc{
		"received": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "synchronizer",
			Name:      "received_total",
			Help:      "Events handed to the synchronizer",
		}, func() float64 { return float64(stats.Received()) }),
		"sent": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "synchronizer",
			Name:      "sent_total",
			Help:      "Events written to the twin store",
		}, func() float64 { return float64(stats.Sent()) }),
		"errors": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "synchronizer",
			Name:      "errors_total",
			Help:      "Failed twin store operations",
		}, func() float64 { return float64(stats.Errors()) }),
	}

	for name, c := range counters {
		if err := registry.Register("synchronizer", name, c); err != nil {
			return err
		}
	}
	return nil
}
