// Package cache provides LRU, a bounded, thread-safe cache with optional
// per-entry expiry. The synchronizer keeps the set of grids whose twin is
// known to exist in one:
//
//	ensured, err := cache.NewLRU(1024,
//	    cache.WithTTL[struct{}](10*time.Minute),
//	    cache.WithMetrics[struct{}](registry, "ensured_twins"))
//
// Expired entries are dropped lazily on Get; there is no background sweeper.
package cache
