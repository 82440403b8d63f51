package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinbridge/metric"
)

// hubMetrics are the hub-specific observer metrics. The connected gauge and
// per-type broadcast counter live in the core metrics.
type hubMetrics struct {
	connections prometheus.Counter
	disconnects *prometheus.CounterVec
	bytesSent   prometheus.Counter
	messageSize *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
}

func newHubMetrics(registry *metric.MetricsRegistry) (*hubMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &hubMetrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "observers",
			Name:      "connections_total",
			Help:      "Observer connections accepted",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "observers",
			Name:      "disconnections_total",
			Help:      "Observer disconnections by reason",
		}, []string{"reason"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "observers",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to observers",
		}),
		messageSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "observers",
			Name:      "message_size_bytes",
			Help:      "Size of broadcast envelopes",
			Buckets:   []float64{100, 500, 1000, 2000, 5000, 10000, 25000},
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "observers",
			Name:      "errors_total",
			Help:      "Observer hub errors",
		}, []string{"error_type"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"connections":  m.connections,
		"disconnects":  m.disconnects,
		"bytes_sent":   m.bytesSent,
		"message_size": m.messageSize,
		"errors":       m.errorsTotal,
	} {
		if err := registry.Register("observers", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *hubMetrics) recordConnect() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *hubMetrics) recordDisconnect(reason string) {
	if m != nil {
		m.disconnects.WithLabelValues(reason).Inc()
	}
}

func (m *hubMetrics) recordSent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (m *hubMetrics) observeSize(msgType string, n int) {
	if m != nil {
		m.messageSize.WithLabelValues(msgType).Observe(float64(n))
	}
}

func (m *hubMetrics) recordError(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}
