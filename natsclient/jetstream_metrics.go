package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/twinbridge/metric"
)

const scrapeTimeout = 2 * time.Second

var (
	streamMessagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metric.Namespace, "jetstream", "stream_messages"),
		"Messages held by the stream", []string{"stream"}, nil)
	consumerPendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metric.Namespace, "jetstream", "consumer_pending_messages"),
		"Messages not yet delivered to the consumer", []string{"stream", "consumer"}, nil)
	consumerAckPendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metric.Namespace, "jetstream", "consumer_ack_pending_messages"),
		"Messages delivered and awaiting acknowledgement", []string{"stream", "consumer"}, nil)
	consumerRedeliveredDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metric.Namespace, "jetstream", "consumer_redelivered_messages"),
		"Messages delivered more than once", []string{"stream", "consumer"}, nil)
)

// jetstreamCollector reads stream and consumer state from the server at
// scrape time. It only knows the stream and consumer this client ensured;
// one that cannot be read is left out of the scrape.
type jetstreamCollector struct {
	failures *prometheus.CounterVec

	mu       sync.RWMutex
	stream   jetstream.Stream
	consumer jetstream.Consumer
}

func newJetStreamCollector(registry *metric.MetricsRegistry) (*jetstreamCollector, error) {
	c := &jetstreamCollector{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "JetStream calls that failed, by operation",
		}, []string{"operation"}),
	}
	if err := registry.RegisterCounterVec("jetstream", "operation_errors", c.failures); err != nil {
		return nil, err
	}
	if err := registry.Register("jetstream", "state", c); err != nil {
		registry.Unregister("jetstream", "operation_errors")
		return nil, err
	}
	return c, nil
}

func (c *jetstreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- streamMessagesDesc
	ch <- consumerPendingDesc
	ch <- consumerAckPendingDesc
	ch <- consumerRedeliveredDesc
}

func (c *jetstreamCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	stream, consumer := c.stream, c.consumer
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if stream != nil {
		if info, err := stream.Info(ctx); err == nil {
			ch <- prometheus.MustNewConstMetric(streamMessagesDesc, prometheus.GaugeValue,
				float64(info.State.Msgs), info.Config.Name)
		}
	}
	if consumer != nil {
		if info, err := consumer.Info(ctx); err == nil {
			labels := []string{info.Stream, info.Name}
			ch <- prometheus.MustNewConstMetric(consumerPendingDesc, prometheus.GaugeValue,
				float64(info.NumPending), labels...)
			ch <- prometheus.MustNewConstMetric(consumerAckPendingDesc, prometheus.GaugeValue,
				float64(info.NumAckPending), labels...)
			ch <- prometheus.MustNewConstMetric(consumerRedeliveredDesc, prometheus.GaugeValue,
				float64(info.NumRedelivered), labels...)
		}
	}
}

func (c *jetstreamCollector) setStream(s jetstream.Stream) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *jetstreamCollector) setConsumer(cons jetstream.Consumer) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.consumer = cons
	c.mu.Unlock()
}

func (c *jetstreamCollector) failed(operation string) {
	if c != nil {
		c.failures.WithLabelValues(operation).Inc()
	}
}
