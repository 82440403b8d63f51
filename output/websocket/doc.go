// Package websocket serves reconciled twin state to dashboard observers.
//
// Observers connect to ws://<addr>/ws and receive one JSON envelope per
// broadcast:
//
//	{
//	  "type": "grid_status",
//	  "id": "6f1c0c1e-...",
//	  "timestamp": 1767268800000,
//	  "gridId": "G01",
//	  "payload": {...}
//	}
//
// Types are grid_status, alert, health and system for events the
// synchronizer reconciled, and twin_changed for events read from the twin
// store change feed.
//
// Delivery is best effort. Each observer has a bounded send buffer; when it
// fills, the observer is disconnected rather than slowing the bridge down.
// The hub pings every observer every 30 seconds and drops peers that stop
// answering. Messages sent by observers are read and discarded.
package websocket
