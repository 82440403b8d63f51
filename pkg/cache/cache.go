package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
)

// Stats is a snapshot of an LRU's counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Peak      int   `json:"peak"`
}

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Option configures an LRU.
type Option[V any] func(*LRU[V])

// WithTTL expires entries ttl after they were last set. Zero disables
// expiry.
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(c *LRU[V]) { c.ttl = max(ttl, 0) }
}

// WithMetrics exports the cache under name. A nil registry or empty name is
// ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(c *LRU[V]) {
		if registry != nil && name != "" {
			c.registry, c.name = registry, name
		}
	}
}

// OnEvict registers fn for every entry that leaves the cache other than by
// being overwritten. It runs outside the cache lock.
func OnEvict[V any](fn func(key string, value V)) Option[V] {
	return func(c *LRU[V]) { c.onEvict = fn }
}

func withClock[V any](now func() time.Time) Option[V] {
	return func(c *LRU[V]) { c.now = now }
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time // zero: never
}

// LRU holds at most a fixed number of entries and evicts the least recently
// used one when full. Expired entries are dropped when a Get finds them.
// It is safe for concurrent use.
type LRU[V any] struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	now     func() time.Time
	index   map[string]*list.Element
	recency *list.List // front: most recently used
	stats   Stats

	onEvict  func(string, V)
	registry *metric.MetricsRegistry
	name     string
	metrics  *cacheMetrics
}

// NewLRU creates a cache of at most limit entries.
func NewLRU[V any](limit int, opts ...Option[V]) (*LRU[V], error) {
	if limit <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "check size limit")
	}
	c := &LRU[V]{
		limit:   limit,
		now:     time.Now,
		index:   make(map[string]*list.Element),
		recency: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry != nil {
		m, err := newCacheMetrics(c.registry, c.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLRU", "register metrics for "+c.name)
		}
		c.metrics = m
	}
	return c, nil
}

// Get returns the value under key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		c.metrics.inc(opMiss)
		return zero, false
	}

	e := el.Value.(*entry[V])
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.unlink(el)
		c.stats.Misses++
		c.stats.Evictions++
		c.resized()
		c.mu.Unlock()
		c.metrics.inc(opMiss)
		c.metrics.inc(opEvict)
		c.evicted(e)
		return zero, false
	}

	c.recency.MoveToFront(el)
	c.stats.Hits++
	c.mu.Unlock()
	c.metrics.inc(opHit)
	return e.value, true
}

// Set stores value under key, refreshing its expiry, and reports whether
// the key is new.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "check key")
	}

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	var victim *entry[V]
	c.mu.Lock()
	el, exists := c.index[key]
	if exists {
		e := el.Value.(*entry[V])
		e.value, e.expires = value, expires
		c.recency.MoveToFront(el)
	} else {
		c.index[key] = c.recency.PushFront(&entry[V]{key: key, value: value, expires: expires})
		if c.recency.Len() > c.limit {
			oldest := c.recency.Back()
			victim = oldest.Value.(*entry[V])
			c.unlink(oldest)
			c.stats.Evictions++
		}
	}
	c.stats.Sets++
	c.resized()
	c.mu.Unlock()

	c.metrics.inc(opSet)
	if victim != nil {
		c.metrics.inc(opEvict)
		c.evicted(victim)
	}
	return !exists, nil
}

// Delete removes key and reports whether it was present.
func (c *LRU[V]) Delete(key string) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Delete", "check key")
	}

	c.mu.Lock()
	el, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e := el.Value.(*entry[V])
	c.unlink(el)
	c.stats.Deletes++
	c.resized()
	c.mu.Unlock()

	c.metrics.inc(opDelete)
	c.evicted(e)
	return true, nil
}

// Clear removes every entry, passing them oldest first to the eviction
// callback.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	var removed []*entry[V]
	for el := c.recency.Back(); el != nil; el = el.Prev() {
		removed = append(removed, el.Value.(*entry[V]))
	}
	clear(c.index)
	c.recency.Init()
	c.resized()
	c.mu.Unlock()

	for _, e := range removed {
		c.evicted(e)
	}
}

// Len counts entries, including expired ones no Get has found yet.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// Keys returns the keys, most recently used first.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.recency.Len())
	for el := c.recency.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// unlink and resized need c.mu held.
func (c *LRU[V]) unlink(el *list.Element) {
	delete(c.index, el.Value.(*entry[V]).key)
	c.recency.Remove(el)
}

func (c *LRU[V]) resized() {
	n := c.recency.Len()
	c.stats.Entries = n
	c.stats.Peak = max(c.stats.Peak, n)
	c.metrics.setEntries(n)
}

func (c *LRU[V]) evicted(e *entry[V]) {
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
