package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/link"
	"github.com/c360/twinbridge/metric"
)

// Client manages one NATS connection at a time.
type Client struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *nats.Conn
	js      jetstream.JetStream
	session *link.Session

	timeout      time.Duration
	drainTimeout time.Duration
	pingInterval time.Duration

	// cleared on Close
	username string
	password string
	token    string

	tlsConfig  *tls.Config
	clientName string

	jsStats *jetstreamCollector

	closed atomic.Bool
}

// NewClient creates a client for url. Nothing is dialled until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:          url,
		logger:       slog.Default(),
		timeout:      5 * time.Second,
		drainTimeout: 5 * time.Second,
		pingInterval: 10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Conn returns the current connection, or nil.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// IsConnected reports whether a live connection is held.
func (c *Client) IsConnected() bool {
	conn := c.Conn()
	return conn != nil && conn.IsConnected()
}

// buildConnectionOptions wires connection loss into session. Built-in
// reconnection is disabled.
func (c *Client) buildConnectionOptions(session *link.Session) []nats.Option {
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(c.timeout),
		nats.PingInterval(c.pingInterval),
		nats.MaxPingsOutstanding(2),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.ErrConnectionLost
			}
			c.logger.Warn("NATS disconnected", "error", err)
			session.Lost(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			session.Lost(errors.ErrConnectionLost)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect dials the server and returns a session that ends when the
// connection is lost. Any previous connection is closed first.
func (c *Client) Connect(ctx context.Context) (*link.Session, error) {
	if c.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrLinkClosed, "Client", "Connect", "connect closed client")
	}
	c.Disconnect(ctx)

	session := link.NewSession()
	opts := c.buildConnectionOptions(session)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// close whatever the dial produces once it returns
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
			"Client", "Connect", "connect to "+c.url)
	}
	if res.err != nil {
		return nil, errors.WrapTransient(res.err, "Client", "Connect", "connect to "+c.url)
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		return nil, errors.WrapTransient(err, "Client", "Connect", "create JetStream context")
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.session = session
	c.mu.Unlock()

	c.logger.Info("Connected to NATS", "url", c.url)
	return session, nil
}

// JetStream returns the JetStream context of the current connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil || c.conn == nil || !c.conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureStream creates the stream or updates it to cfg.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.jsStats.failed("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create or update stream "+cfg.Name)
	}
	c.jsStats.setStream(stream)
	return stream, nil
}

// EnsureConsumer creates the durable consumer or updates it to cfg.
func (c *Client) EnsureConsumer(
	ctx context.Context, stream string, cfg jetstream.ConsumerConfig,
) (jetstream.Consumer, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		c.jsStats.failed("ensure_consumer")
		return nil, errors.WrapTransient(err, "Client", "EnsureConsumer", "create or update consumer "+cfg.Durable)
	}
	c.jsStats.setConsumer(consumer)
	return consumer, nil
}

// PublishToStream publishes data and waits for the stream acknowledgement.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.jsStats.failed("publish")
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}
	return nil
}

// Disconnect drains and closes the current connection. It is safe to call
// when no connection is held.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	session := c.session
	c.conn = nil
	c.js = nil
	c.session = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	if conn.IsConnected() {
		drained := make(chan struct{})
		go func() {
			if err := conn.Drain(); err != nil {
				c.logger.Debug("NATS drain failed", "error", err)
			}
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
		case <-time.After(c.drainTimeout):
		}
	}
	conn.Close()
	if session != nil {
		session.Lost(errors.ErrLinkClosed)
	}
}

// Close disconnects for good and clears credentials. It is idempotent.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.Disconnect(ctx)

	c.mu.Lock()
	c.username = ""
	c.password = ""
	c.token = ""
	c.mu.Unlock()
	return nil
}

// URLFor builds a nats:// or tls:// URL.
func URLFor(host string, port int, secure bool) string {
	scheme := "nats"
	if secure {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// WithMetrics exports the state of the ensured stream and consumer to
// registry, read from the server on every scrape. A nil registry is ignored.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}
		stats, err := newJetStreamCollector(registry)
		if err != nil {
			return err
		}
		c.jsStats = stats
		return nil
	}
}
