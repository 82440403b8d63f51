// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts. The resilient link uses it for its reconnect
// budget:
//
//	err := retry.Do(ctx, retry.Fixed(10, 5*time.Second), reconnect)
//
// Errors wrapped with NonRetryable end the loop immediately.
package retry
