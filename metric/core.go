package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the bridge exports.
const Namespace = "twinbridge"

// Metrics contains the bridge-wide metrics shared by all components
type Metrics struct {
	EventsReceived   *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	EventsMalformed  *prometheus.CounterVec
	StoreRequests    *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
	LinkState        *prometheus.GaugeVec
	LinkReconnects   *prometheus.CounterVec
	LinkExhaustions  *prometheus.CounterVec
	ObserversActive  prometheus.Gauge
	ObserverMessages *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Inbound events accepted from the broker",
			},
			[]string{"kind"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Inbound events processed by the synchronizer",
			},
			[]string{"kind", "status"},
		),
		EventsMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "malformed_total",
				Help:      "Inbound payloads dropped because they could not be decoded",
			},
			[]string{"kind"},
		),
		StoreRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "twinstore",
				Name:      "requests_total",
				Help:      "Twin store HTTP requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "twinstore",
				Name:      "request_duration_seconds",
				Help:      "Twin store HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		LinkState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "state",
				Help:      "Link state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=exhausted)",
			},
			[]string{"link"},
		),
		LinkReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "reconnect_attempts_total",
				Help:      "Reconnect attempts made by each link",
			},
			[]string{"link"},
		),
		LinkExhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "exhausted_total",
				Help:      "Times a link spent its reconnect budget",
			},
			[]string{"link"},
		),
		ObserversActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "observers",
				Name:      "connected",
				Help:      "Dashboard observers currently connected",
			},
		),
		ObserverMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "observers",
				Name:      "broadcasts_total",
				Help:      "Messages broadcast to observers by type",
			},
			[]string{"type"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EventsReceived,
		c.EventsProcessed,
		c.EventsMalformed,
		c.StoreRequests,
		c.StoreDuration,
		c.LinkState,
		c.LinkReconnects,
		c.LinkExhaustions,
		c.ObserversActive,
		c.ObserverMessages,
	}
}

// RecordEventReceived increments the received counter for kind
func (c *Metrics) RecordEventReceived(kind string) {
	c.EventsReceived.WithLabelValues(kind).Inc()
}

// RecordEventProcessed increments the processed counter for kind and status
func (c *Metrics) RecordEventProcessed(kind, status string) {
	c.EventsProcessed.WithLabelValues(kind, status).Inc()
}

// RecordMalformed increments the malformed payload counter
func (c *Metrics) RecordMalformed(kind string) {
	c.EventsMalformed.WithLabelValues(kind).Inc()
}

// RecordStoreRequest records one twin store call
func (c *Metrics) RecordStoreRequest(operation, outcome string, duration time.Duration) {
	c.StoreRequests.WithLabelValues(operation, outcome).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLinkState sets the state gauge for a link
func (c *Metrics) RecordLinkState(link string, state int) {
	c.LinkState.WithLabelValues(link).Set(float64(state))
}

// RecordLinkReconnect increments the reconnect attempt counter for a link
func (c *Metrics) RecordLinkReconnect(link string) {
	c.LinkReconnects.WithLabelValues(link).Inc()
}

// RecordLinkExhausted increments the exhaustion counter for a link
func (c *Metrics) RecordLinkExhausted(link string) {
	c.LinkExhaustions.WithLabelValues(link).Inc()
}

// RecordObservers sets the connected observer gauge
func (c *Metrics) RecordObservers(n int) {
	c.ObserversActive.Set(float64(n))
}

// RecordBroadcast increments the broadcast counter for a message type
func (c *Metrics) RecordBroadcast(messageType string) {
	c.ObserverMessages.WithLabelValues(messageType).Inc()
}
