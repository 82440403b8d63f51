package subscriber

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/link"
	"github.com/c360/twinbridge/message"
	"github.com/c360/twinbridge/metric"
)

// LinkName identifies the broker link in logs, metrics and health.
const LinkName = "broker"

// Broker is the slice of natsclient.Client the subscriber drives.
type Broker interface {
	Connect(ctx context.Context) (*link.Session, error)
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	EnsureConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Disconnect(ctx context.Context)
	Close(ctx context.Context) error
}

// delivery is one broker message awaiting acknowledgement. jetstream.Msg
// satisfies it.
type delivery interface {
	Subject() string
	Data() []byte
	Ack() error
	Term() error
}

// Config configures a Subscriber.
type Config struct {
	Root     string // topic root, "dhsiled" by default
	Stream   string
	Consumer string

	ReconnectDelay time.Duration
	MaxAttempts    int
	ConnectTimeout time.Duration

	// Prefetch bounds messages pulled ahead of the consumer.
	Prefetch int

	OnStateChange func(from, to link.State)
}

// Subscriber owns the broker link and the durable consumer behind Events.
type Subscriber struct {
	cfg     Config
	broker  Broker
	link    *link.Link
	logger  *slog.Logger
	metrics *metric.Metrics

	deliveries chan delivery

	mu      sync.Mutex
	consume jetstream.ConsumeContext

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a subscriber over broker. metrics may be nil.
func New(cfg Config, broker Broker, logger *slog.Logger, metrics *metric.Metrics) (*Subscriber, error) {
	if broker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "subscriber", "New", "validate broker")
	}
	if cfg.Root == "" {
		cfg.Root = message.DefaultRoot
	}
	if cfg.Stream == "" {
		cfg.Stream = "DHSILED"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "twinbridge"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscriber{
		cfg:        cfg,
		broker:     broker,
		logger:     logger.With("component", "subscriber"),
		metrics:    metrics,
		deliveries: make(chan delivery, cfg.Prefetch),
		closed:     make(chan struct{}),
	}

	l, err := link.New(link.Config{
		Name: LinkName,
		Connect: func(ctx context.Context) (link.Conn, error) {
			session, err := broker.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Subscribe:      s.subscribe,
		Teardown:       s.teardown,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.MaxAttempts,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         s.logger,
		Metrics:        metrics,
		OnStateChange:  cfg.OnStateChange,
	})
	if err != nil {
		return nil, err
	}
	s.link = l
	return s, nil
}

// Connect makes one bounded connection attempt and subscribes to the grid
// and system topics.
func (s *Subscriber) Connect(ctx context.Context) error {
	return s.link.Connect(ctx)
}

// Run supervises the broker link. It returns nil on shutdown and an error
// wrapping errors.ErrLinkExhausted once the reconnect budget is spent.
func (s *Subscriber) Run(ctx context.Context) error {
	return s.link.Run(ctx)
}

// State returns the broker link state.
func (s *Subscriber) State() link.State {
	return s.link.State()
}

// Disconnect closes the link and the broker client. It is idempotent.
// Messages prefetched but not yet yielded are left unacknowledged and will
// be redelivered to the durable consumer.
func (s *Subscriber) Disconnect(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.link.Close()
		err = s.broker.Close(ctx)
	})
	return err
}

// Events returns a pull sequence of decoded events. Each event is
// acknowledged after the loop body returns for it. Breaking out of the loop
// leaves the remaining events for the next range. Iteration ends when ctx
// is done or the subscriber is disconnected.
func (s *Subscriber) Events(ctx context.Context) iter.Seq[message.InboundEvent] {
	return func(yield func(message.InboundEvent) bool) {
		for {
			var d delivery
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case d = <-s.deliveries:
			}

			ev, err := message.Decode(s.cfg.Root, d.Subject(), d.Data())
			if err != nil {
				s.reject(d, ev.Kind, err)
				continue
			}
			if s.metrics != nil {
				s.metrics.RecordEventReceived(ev.Kind.String())
			}

			more := yield(ev)
			if err := d.Ack(); err != nil {
				s.logger.Debug("Ack failed, message will be redelivered",
					"topic", d.Subject(), "error", err)
			}
			if !more {
				return
			}
		}
	}
}

// reject drops a malformed payload and tells the broker not to redeliver it.
func (s *Subscriber) reject(d delivery, kind message.Kind, err error) {
	s.logger.Warn("Dropping malformed payload",
		"topic", d.Subject(),
		"raw", string(d.Data()),
		"error", err)
	if s.metrics != nil {
		s.metrics.RecordMalformed(kind.String())
	}
	if termErr := d.Term(); termErr != nil {
		s.logger.Debug("Term failed", "topic", d.Subject(), "error", termErr)
	}
}

// subscribe declares the stream and durable consumer and starts pulling
// into the delivery channel. Called on every (re)connect.
func (s *Subscriber) subscribe(ctx context.Context, conn link.Conn) error {
	subjects := message.Subjects(s.cfg.Root)

	if _, err := s.broker.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
		MaxAge:   24 * time.Hour,
	}); err != nil {
		return err
	}

	consumer, err := s.broker.EnsureConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:        s.cfg.Consumer,
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckWait:        30 * time.Second,
	})
	if err != nil {
		return err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.enqueue(conn, msg)
	}, jetstream.PullMaxMessages(s.cfg.Prefetch))
	if err != nil {
		return errors.WrapTransient(err, "subscriber", "subscribe", "start consumer "+s.cfg.Consumer)
	}

	s.mu.Lock()
	s.consume = cc
	s.mu.Unlock()

	s.logger.Info("Subscribed", "stream", s.cfg.Stream, "consumer", s.cfg.Consumer, "subjects", subjects)
	return nil
}

// enqueue hands d to Events, giving up if the session ends first so the
// message is redelivered on the next session.
func (s *Subscriber) enqueue(conn link.Conn, d delivery) {
	select {
	case s.deliveries <- d:
	case <-conn.Done():
	case <-s.closed:
	}
}

func (s *Subscriber) teardown(link.Conn) {
	s.mu.Lock()
	cc := s.consume
	s.consume = nil
	s.mu.Unlock()

	if cc != nil {
		cc.Stop()
	}

	// Prefetched messages were never acked; the consumer redelivers them
	// on the next session.
	if n := s.discardPrefetched(); n > 0 {
		s.logger.Debug("Discarded prefetched messages", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.broker.Disconnect(ctx)
}

func (s *Subscriber) discardPrefetched() int {
	n := 0
	for {
		select {
		case <-s.deliveries:
			n++
		default:
			return n
		}
	}
}
