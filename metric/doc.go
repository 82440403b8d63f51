// Package metric owns the bridge's Prometheus registry and the HTTP server
// exposing /metrics and /health.
//
// Components register their own collectors through MetricsRegistry.Register
// using a "component.metric" key; duplicate keys are rejected.
package metric
