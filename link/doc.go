// Package link is the resilient connection shared by the broker subscriber
// and the twin store change feed.
//
// A Link is built from three functions: Connect opens a session, Subscribe
// re-issues subscriptions on every fresh session and Teardown releases a
// session. Run watches the session and, when it is lost, waits
// ReconnectDelay and makes up to MaxAttempts attempts spaced by the same
// delay. When all of them fail the link moves to Exhausted, closes the
// channel returned by Exhausted and never tries again.
//
//	l, _ := link.New(link.Config{
//	    Name:      "subscriber",
//	    Connect:   dial,
//	    Subscribe: subscribe,
//	    Teardown:  closeSession,
//	})
//	if err := l.Connect(ctx); err != nil {
//	    return err
//	}
//	err := l.Run(ctx) // nil on shutdown, wraps errors.ErrLinkExhausted otherwise
package link
