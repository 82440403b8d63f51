package twinstore

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/c360/twinbridge/errors"
)

// Store errors. Every error returned by Client wraps exactly one of them.
var (
	ErrNotFound     = stderrors.New("not found")
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrUnreachable  = stderrors.New("twin store unreachable")
	ErrMalformed    = stderrors.New("malformed response")

	// ErrAlreadyExists is returned by create-only writes when the document
	// exists.
	ErrAlreadyExists = stderrors.New("already exists")
)

// statusError maps a non-2xx response to a store error.
func statusError(status int, body []byte) error {
	return fmt.Errorf("%w: HTTP %d: %s", statusSentinel(status), status, truncate(body, 256))
}

func statusSentinel(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500:
		return ErrUnreachable
	default:
		return ErrMalformed
	}
}

// wrap attaches the operation context and classifies err by store error.
func wrap(err error, operation, action string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrUnreachable):
		return errors.WrapTransient(err, "twinstore", operation, action)
	case stderrors.Is(err, ErrUnauthorized):
		return errors.WrapFatal(err, "twinstore", operation, action)
	default:
		return errors.WrapInvalid(err, "twinstore", operation, action)
	}
}

// outcome labels err for metrics and spans.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "malformed"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
