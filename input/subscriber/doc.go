// Package subscriber is the inbound side of the bridge.
//
// Sensors publish to <root>/grids/<gridId>/{status,alerts,health} and
// <root>/system/<kind>. On NATS these arrive as dot-separated subjects and
// are captured by a JetStream stream; the subscriber reads them through a
// durable consumer with explicit acknowledgement, so an event is
// redelivered only if it was never acknowledged.
//
// Events returns an iter.Seq. Each range pulls from the same underlying
// consumer, so breaking out of a loop and ranging again resumes where the
// previous loop stopped:
//
//	for ev := range sub.Events(ctx) {
//	    if err := q.Enqueue(ev); err != nil {
//	        break
//	    }
//	}
//
// Payloads that are not JSON objects or fail the per-kind schema are logged
// with their topic and raw bytes and terminated at the broker.
//
// Run supervises the connection with the shared link policy and returns an
// error wrapping errors.ErrLinkExhausted once the reconnect budget is spent.
package subscriber
