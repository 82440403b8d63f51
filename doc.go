// Package twinbridge relays real-time grid events from a publish/subscribe
// broker into a digital twin store and fans reconciled state out to
// dashboard observers.
//
// # Data Flow
//
//	broker (JetStream) -> input/subscriber -> pkg/queue -> processor/synchronizer
//	    -> twinstore (HTTP) -> twin store -> twinstore.Feed -> output/websocket
//
// Edge devices publish status, alert and health payloads on
// <root>/grids/<gridId>/<kind> (NATS subjects <root>.grids.<gridId>.<kind>).
// The subscriber decodes and classifies each message, dropping malformed
// payloads. The delivery queue serializes events into the synchronizer,
// which bootstraps one twin per grid, maps each event onto twin features and
// escalates critical alerts to the twin inbox. Reconciled events, and the
// store's own change feed, are broadcast to observers.
//
// # Packages
//
//	cmd/twinbridge          CLI: run the bridge, list twins, print version
//	config                  layered YAML/JSON + DHSILED_* configuration
//	errors                  classified errors (transient, invalid, fatal)
//	link                    reconnecting link shared by broker and change feed
//	message                 topic parsing, payload types and schemas
//	natsclient              NATS and JetStream connection
//	input/subscriber        broker subscriber exposing iter.Seq of events
//	twinstore               twin store HTTP client and change feed
//	processor/synchronizer  event to twin reconciliation and statistics
//	output/websocket        observer fan-out hub
//	metric, health          Prometheus registry, /metrics and /health
//	pkg/buffer, pkg/queue   bounded drop-oldest delivery queue
//	pkg/cache               LRU cache of bootstrapped twins
//	pkg/retry               fixed-delay retry used by link
//	pkg/timestamp           payload timestamp normalization
//	pkg/tlsutil             client TLS configuration
//
// # Testing
//
// Unit tests run against in-process fakes (httptest twin store, gorilla
// websocket feed servers). Integration tests start NATS with
// testcontainers-go and run only when INTEGRATION_TESTS=1 is set.
package twinbridge
