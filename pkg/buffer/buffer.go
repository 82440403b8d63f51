package buffer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
)

// Policy decides what a full Ring does with a new item.
type Policy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest Policy = iota
)

func (p Policy) String() string {
	if p == DropOldest {
		return "drop_oldest"
	}
	return "unknown"
}

// ParsePolicy maps a configuration value to a Policy. The empty string
// selects DropOldest.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "drop_oldest":
		return DropOldest, nil
	}
	return 0, errors.WrapInvalid(
		fmt.Errorf("%w: unsupported overflow strategy %q", errors.ErrInvalidConfig, name),
		"buffer", "ParsePolicy", "parse overflow strategy")
}

// Stats is a snapshot of a Ring's counters.
type Stats struct {
	Pushed    int64 `json:"pushed"`
	Popped    int64 `json:"popped"`
	Evicted   int64 `json:"evicted"`
	HighWater int   `json:"high_water"`
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// OnEvict registers fn to receive every item the policy evicts. It runs
// outside the Ring's lock.
func OnEvict[T any](fn func(T)) Option[T] {
	return func(r *Ring[T]) { r.onEvict = fn }
}

// WithMetrics exports the Ring under name. A nil registry is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(r *Ring[T]) {
		r.registry = registry
		r.name = name
	}
}

// Ring is a fixed-capacity FIFO. It is safe for concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // oldest item
	n      int
	closed bool
	stats  Stats

	onEvict  func(T)
	registry *metric.MetricsRegistry
	name     string
	metrics  *ringMetrics
}

// New creates a Ring holding at most capacity items; capacity below 1 is
// raised to 1.
func New[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	r := &Ring[T]{items: make([]T, max(capacity, 1))}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry != nil && r.name != "" {
		m, err := newRingMetrics(r.registry, r.name, len(r.items))
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "New", "register metrics for "+r.name)
		}
		r.metrics = m
	}
	return r, nil
}

// Push appends item, evicting the oldest item when the Ring is full.
func (r *Ring[T]) Push(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrLinkClosed, "buffer", "Push", "push to closed ring")
	}

	var (
		evicted    T
		hasEvicted bool
	)
	if r.n == len(r.items) {
		evicted, _ = r.pop()
		hasEvicted = true
		r.stats.Evicted++
		r.metrics.evicted()
	}
	r.items[(r.head+r.n)%len(r.items)] = item
	r.n++
	r.stats.Pushed++
	r.stats.HighWater = max(r.stats.HighWater, r.n)
	r.metrics.resize(r.n)
	r.mu.Unlock()

	if hasEvicted && r.onEvict != nil {
		r.onEvict(evicted)
	}
	return nil
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.pop()
	if ok {
		r.stats.Popped++
		r.metrics.resize(r.n)
	}
	return item, ok
}

func (r *Ring[T]) pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.n--
	return item, true
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Ring[T]) Cap() int { return len(r.items) }

// Drain empties the Ring and reports how many items it held. Drained items
// are not passed to the eviction callback.
func (r *Ring[T]) Drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.n
	clear(r.items)
	r.head, r.n = 0, 0
	r.metrics.resize(0)
	return n
}

// Close makes further pushes fail. Buffered items stay readable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Stats returns a snapshot of the Ring's counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
