package synchronizer

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReportInterval is how often the Reporter logs by default.
const DefaultReportInterval = 60 * time.Second

// QueueStats is the view of the delivery queue the Reporter logs.
type QueueStats interface {
	Len() int
	Dropped() int64
	HighWater() int
}

// Reporter periodically logs Stats alongside the delivery queue depth.
type Reporter struct {
	stats    *Stats
	queue    QueueStats
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReporter creates a Reporter. queue may be nil.
func NewReporter(stats *Stats, queue QueueStats, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		stats:    stats,
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "stats-reporter"),
		now:      time.Now,
	}
}

// Run logs a report every interval and a final one when ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report("Final bridge statistics")
			return nil
		case <-ticker.C:
			r.report("Bridge statistics")
		}
	}
}

func (r *Reporter) report(msg string) {
	snap := r.stats.Snapshot(r.now())
	attrs := []any{
		"received", snap.Received,
		"sent", snap.Sent,
		"errors", snap.Errors,
		"uptime", snap.Uptime.Truncate(time.Second).String(),
	}
	if r.queue != nil {
		attrs = append(attrs,
			"queue_depth", r.queue.Len(),
			"queue_high_water", r.queue.HighWater(),
			"queue_dropped", r.queue.Dropped())
	}
	r.logger.Info(msg, attrs...)
}
