// Package buffer implements Ring, the bounded FIFO behind the delivery queue.
//
// The only policy is DropOldest: pushing to a full Ring evicts the oldest
// item so the newest state always survives. ParsePolicy rejects every
// configuration value other than "drop_oldest".
//
//	ring, err := buffer.New[Event](1000,
//	    buffer.OnEvict(func(e Event) { logger.Warn("dropped", "grid", e.GridID) }),
//	    buffer.WithMetrics[Event](registry, "delivery_queue"),
//	)
package buffer
