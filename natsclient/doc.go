// Package natsclient connects the bridge to a NATS server with JetStream.
//
// A Client holds at most one connection. Connect returns a *link.Session
// that is marked lost when the server goes away, and the connection is
// created with reconnection disabled: retry timing and the attempt budget
// belong to the link supervisor, which calls Connect again.
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithCredentials(user, pass),
//	    natsclient.WithLogger(logger))
//	session, err := client.Connect(ctx)
//	stream, err := client.EnsureStream(ctx, jetstream.StreamConfig{...})
//
// WithMetrics exports stream depth and consumer backlog, read from the
// server whenever the registry is scraped.
//
// NewTestServer runs a throwaway NATS container through testcontainers for
// integration tests.
package natsclient
