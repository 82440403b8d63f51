// Package queue implements the delivery queue: a bounded, strictly ordered
// buffer drained by a single consumer at one item per tick.
package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/pkg/buffer"
)

// Defaults for the delivery queue.
const (
	DefaultCapacity = 1000
	DefaultTick     = 100 * time.Millisecond
)

// Config configures a Queue.
type Config struct {
	Capacity         int
	Tick             time.Duration
	OverflowStrategy string
}

// Handler processes one dequeued item. ctx is detached from the cancellation
// of Run's context so an item already dequeued at shutdown is finished;
// handlers bound their own calls with timeouts.
type Handler[T any] func(ctx context.Context, item T)

// Queue serializes items into a single handler.
type Queue[T any] struct {
	buf     *buffer.Ring[T]
	tick    time.Duration
	logger  *slog.Logger
	dropped atomic.Int64
	running atomic.Bool
}

// New creates a queue. The overflow strategy must be "drop_oldest" or empty.
func New[T any](cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Queue[T], error) {
	if _, err := buffer.ParsePolicy(cfg.OverflowStrategy); err != nil {
		return nil, err
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue[T]{
		tick:   cfg.Tick,
		logger: logger.With("component", "delivery-queue"),
	}

	var err error
	q.buf, err = buffer.New(cfg.Capacity,
		buffer.WithMetrics[T](registry, "delivery_queue"),
		buffer.OnEvict(func(T) {
			n := q.dropped.Add(1)
			q.logger.Warn("Dropped queued item", "dropped_total", n)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "queue", "New", "create buffer")
	}
	return q, nil
}

// Enqueue appends item. When the queue is full the oldest item is dropped.
func (q *Queue[T]) Enqueue(item T) error {
	return q.buf.Push(item)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.buf.Len()
}

// Capacity returns the maximum number of queued items.
func (q *Queue[T]) Capacity() int {
	return q.buf.Cap()
}

// Dropped returns how many items were evicted by overflow or shutdown.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

// HighWater returns the deepest the queue has been.
func (q *Queue[T]) HighWater() int {
	return q.buf.Stats().HighWater
}

// Run hands at most one item to handle per tick until ctx is done. The
// first item is handed over immediately. Items still queued when Run
// returns are discarded. Only one Run may be active.
func (q *Queue[T]) Run(ctx context.Context, handle Handler[T]) error {
	if !q.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "queue", "Run", "start second consumer")
	}
	defer q.running.Store(false)

	limiter := rate.NewLimiter(rate.Every(q.tick), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			q.discard()
			return nil
		}
		if item, ok := q.buf.Pop(); ok {
			handle(context.WithoutCancel(ctx), item)
		}
	}
}

func (q *Queue[T]) discard() {
	q.buf.Close()
	pending := q.buf.Drain()
	if pending == 0 {
		return
	}
	q.dropped.Add(int64(pending))
	q.logger.Info("Discarded queued items on shutdown", "count", pending)
}
