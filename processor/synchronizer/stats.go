package synchronizer

import (
	"sync/atomic"
	"time"
)

// Stats counts events over the process lifetime. It is safe for concurrent
// use; the counters only grow.
type Stats struct {
	received atomic.Int64
	sent     atomic.Int64
	errors   atomic.Int64
	started  time.Time
}

// NewStats returns zeroed counters started at now.
func NewStats(now time.Time) *Stats {
	return &Stats{started: now}
}

// Received is the number of events handed to the synchronizer.
func (s *Stats) Received() int64 { return s.received.Load() }

// Sent is the number of events written to the twin store.
func (s *Stats) Sent() int64 { return s.sent.Load() }

// Errors is the number of failed store operations.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// Started returns when counting began.
func (s *Stats) Started() time.Time { return s.started }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Received int64         `json:"received"`
	Sent     int64         `json:"sent"`
	Errors   int64         `json:"errors"`
	Started  time.Time     `json:"started"`
	Uptime   time.Duration `json:"uptime"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Received: s.received.Load(),
		Sent:     s.sent.Load(),
		Errors:   s.errors.Load(),
		Started:  s.started,
		Uptime:   now.Sub(s.started),
	}
}
