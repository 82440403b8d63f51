// Package health aggregates per-link health into one status for the bridge.
//
// The subscriber link and the twin store feed report into a Monitor as their
// connection state changes; the metrics server serves the aggregate on
// /health.
package health
