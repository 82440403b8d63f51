// Package synchronizer reconciles inbound grid events into the twin store.
//
// # Event handling
//
// The Synchronizer is the single consumer behind the delivery queue. Each
// event is handled on its own and a failure never stops the next one:
//
//   - status events are mapped onto the crowdMonitoring, behaviorAnalysis,
//     emergencyDetection and performance features and written with
//     UpsertTwin
//   - alert events bump alerts.alertCount and record the latest alert;
//     critical alerts also send one criticalAlert inbox message
//   - health events replace the deviceHealth feature
//   - system and unclassified events go to observers only
//
// Before the first write for a grid the twin is bootstrapped with
// EnsureGridTwin. Ensured grids are remembered in a bounded LRU cache and
// forgotten as soon as the store reports the twin missing.
//
// # Statistics
//
// Stats holds the received, sent and error counters. The Reporter logs
// them periodically together with the delivery queue depth, and the
// counters are exported to Prometheus when a registry is supplied.
package synchronizer
