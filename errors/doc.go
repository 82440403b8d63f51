// Package errors classifies bridge failures so callers can choose between
// retrying, dropping the input and stopping.
//
// # Classes
//
//   - Transient: connection loss, timeouts, an unreachable twin store. Links
//     reconnect, the synchronizer counts the failure and moves on.
//   - Invalid: malformed payloads and bad configuration values. The input is
//     dropped.
//   - Fatal: an exhausted link or a create that cannot succeed. The affected
//     operation stops and, for the subscriber link, the process exits.
//
// # Wrapping
//
// All helpers produce messages of the form
//
//	component.method: action failed: cause
//
// and keep the cause reachable through errors.Is and errors.As:
//
//	err := errors.WrapTransient(cause, "twinstore", "UpsertTwin", "update twin")
//	if errors.IsTransient(err) {
//	    // count and continue
//	}
package errors
