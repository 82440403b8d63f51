// Package link supervises a long-lived connection: it connects, subscribes,
// watches for loss and reconnects with a fixed delay and a bounded number of
// attempts. Once the budget is spent the link is Exhausted for good.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/pkg/retry"
)

// Defaults for the reconnect policy.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxAttempts    = 10
	DefaultConnectTimeout = 30 * time.Second
)

// Config parameterizes a Link.
type Config struct {
	// Name identifies the link in logs and metrics.
	Name string

	// Connect establishes a session. The context carries ConnectTimeout.
	Connect func(ctx context.Context) (Conn, error)

	// Subscribe (re)issues subscriptions on a fresh session. A failure
	// counts as a failed connection attempt. Optional.
	Subscribe func(ctx context.Context, conn Conn) error

	// Teardown releases a session that is lost or being closed. Optional.
	Teardown func(conn Conn)

	ReconnectDelay time.Duration
	MaxAttempts    int
	ConnectTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metric.Metrics

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State)
}

// Link is a resilient connection with a fixed reconnect budget.
type Link struct {
	cfg    Config
	logger *slog.Logger

	state    atomic.Int32
	attempts atomic.Int64

	mu   sync.Mutex
	conn Conn

	exhausted     chan struct{}
	exhaustedOnce sync.Once
	closed        chan struct{}
	closeOnce     sync.Once
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Link, error) {
	if cfg.Connect == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "link", "New", "validate connect function")
	}
	if cfg.Name == "" {
		cfg.Name = "link"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Link{
		cfg:       cfg,
		logger:    logger.With("link", cfg.Name),
		exhausted: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	l.state.Store(int32(Disconnected))
	return l, nil
}

// Name returns the link name.
func (l *Link) Name() string {
	return l.cfg.Name
}

// State returns the current connection state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// Attempts returns the number of reconnect attempts made so far.
func (l *Link) Attempts() int64 {
	return l.attempts.Load()
}

// Exhausted is closed exactly once, when the reconnect budget is spent.
func (l *Link) Exhausted() <-chan struct{} {
	return l.exhausted
}

// Connect makes one bounded connection attempt and subscribes.
func (l *Link) Connect(ctx context.Context) error {
	if l.State() == Exhausted {
		return errors.WrapFatal(errors.ErrLinkExhausted, "link", "Connect", "connect "+l.cfg.Name)
	}
	if l.isClosed() {
		return errors.WrapInvalid(errors.ErrLinkClosed, "link", "Connect", "connect "+l.cfg.Name)
	}

	l.setState(Connecting)
	if err := l.establish(ctx); err != nil {
		l.setState(Disconnected)
		return errors.WrapTransient(err, "link", "Connect", "connect "+l.cfg.Name)
	}
	l.setState(Connected)
	l.logger.Info("Link connected")
	return nil
}

// Run supervises the link until ctx is done, Close is called or the
// reconnect budget is spent. It returns nil on shutdown and an error
// wrapping errors.ErrLinkExhausted on exhaustion.
func (l *Link) Run(ctx context.Context) error {
	if l.State() == Exhausted {
		return errors.WrapFatal(errors.ErrLinkExhausted, "link", "Run", "supervise "+l.cfg.Name)
	}

	for {
		conn := l.current()
		if conn != nil {
			select {
			case <-ctx.Done():
				l.shutdown()
				return nil
			case <-l.closed:
				l.shutdown()
				return nil
			case <-conn.Done():
				l.logger.Warn("Link lost", "error", conn.Err())
				l.drop(conn)
			}
		}

		if err := l.reconnect(ctx); err != nil {
			if ctx.Err() != nil || l.isClosed() {
				l.shutdown()
				return nil
			}
			l.exhaust(err)
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrLinkExhausted, err),
				"link", "Run", "supervise "+l.cfg.Name)
		}
	}
}

// Close tears the link down. It is idempotent and does not mark the link
// exhausted.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.shutdown()
	})
	return nil
}

func (l *Link) reconnect(ctx context.Context) error {
	l.setState(Reconnecting)

	// one delay before the first attempt, then retry.Do spaces the rest
	if err := l.wait(ctx, l.cfg.ReconnectDelay); err != nil {
		return err
	}

	policy := retry.Fixed(l.cfg.MaxAttempts, l.cfg.ReconnectDelay)
	policy.OnRetry = func(attempt int, err error) {
		l.logger.Warn("Reconnect attempt failed",
			"attempt", attempt, "max_attempts", l.cfg.MaxAttempts, "error", err)
	}

	err := retry.Do(ctx, policy, func() error {
		if l.isClosed() {
			return retry.NonRetryable(errors.ErrLinkClosed)
		}
		n := l.attempts.Add(1)
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.RecordLinkReconnect(l.cfg.Name)
		}
		l.logger.Info("Reconnecting", "attempt", n)
		return l.establish(ctx)
	})
	if err != nil {
		return err
	}

	l.setState(Connected)
	l.logger.Info("Link re-established", "total_attempts", l.attempts.Load())
	return nil
}

// establish connects and subscribes; a subscribe failure tears the new
// session down again.
func (l *Link) establish(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()

	conn, err := l.cfg.Connect(connectCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConnectFailed, err)
	}
	if conn == nil {
		return fmt.Errorf("%w: connect returned no session", errors.ErrConnectFailed)
	}

	if l.cfg.Subscribe != nil {
		if err := l.cfg.Subscribe(connectCtx, conn); err != nil {
			l.teardown(conn)
			return fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err)
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *Link) exhaust(cause error) {
	l.exhaustedOnce.Do(func() {
		l.setState(Exhausted)
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.RecordLinkExhausted(l.cfg.Name)
		}
		l.logger.Error("Link exhausted, giving up",
			"attempts", l.cfg.MaxAttempts, "error", cause)
		close(l.exhausted)
	})
}

func (l *Link) shutdown() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		l.teardown(conn)
	}
	if l.State() != Exhausted {
		l.setState(Disconnected)
	}
}

func (l *Link) drop(conn Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	l.teardown(conn)
}

func (l *Link) teardown(conn Conn) {
	if l.cfg.Teardown != nil {
		l.cfg.Teardown(conn)
	}
}

func (l *Link) current() Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *Link) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return errors.ErrLinkClosed
	case <-timer.C:
		return nil
	}
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Link) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordLinkState(l.cfg.Name, int(to))
	}
	l.logger.Debug("Link state changed", "from", from.String(), "to", to.String())
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(from, to)
	}
}
