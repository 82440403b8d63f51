package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class tells a caller how to react to an error.
type Class int

const (
	// Transient errors clear up on their own; retry or reconnect.
	Transient Class = iota
	// Invalid errors come from bad input or configuration; drop the input.
	Invalid
	// Fatal errors stop the affected link or operation.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Transport.
var (
	ErrConnectFailed      = errors.New("transport connect failed")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrNotConnected       = errors.New("not connected")
)

// Link supervision.
var (
	ErrLinkExhausted = errors.New("link exhausted: reconnect attempts spent")
	ErrLinkClosed    = errors.New("link closed")
)

// Payloads and configuration.
var (
	ErrParsingFailed = errors.New("parsing failed")
	ErrInvalidData   = errors.New("invalid data format")
	ErrSchemaFailed  = errors.New("schema validation failed")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// sentinels classifies the plain sentinel errors above when they reach a
// caller without a ClassifiedError around them.
var sentinels = map[Class][]error{
	Transient: {ErrConnectFailed, ErrConnectionTimeout, ErrConnectionLost, ErrNotConnected, context.DeadlineExceeded},
	Invalid:   {ErrInvalidData, ErrParsingFailed, ErrSchemaFailed},
	Fatal:     {ErrLinkExhausted, ErrInvalidConfig, ErrMissingConfig},
}

// ClassifiedError carries a Class and the component.operation that failed.
type ClassifiedError struct {
	Class     Class
	Component string
	Operation string
	Err       error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassOf returns the class of the outermost ClassifiedError in err's chain,
// falling back to the known sentinels. Anything else is Transient.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	for _, class := range []Class{Fatal, Invalid, Transient} {
		for _, s := range sentinels[class] {
			if errors.Is(err, s) {
				return class
			}
		}
	}
	return Transient
}

func is(err error, class Class) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	for _, s := range sentinels[class] {
		if errors.Is(err, s) {
			return true
		}
	}
	if class == Transient {
		var netErr net.Error
		return errors.As(err, &netErr)
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return is(err, Transient) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return is(err, Invalid) }

// IsFatal reports whether err should stop the affected link or operation.
func IsFatal(err error) bool { return is(err, Fatal) }

// Wrap annotates err as "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Operation: method,
		Err:       Wrap(err, component, method, action),
	}
}

// WrapTransient is Wrap classified as Transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(Transient, err, component, method, action)
}

// WrapInvalid is Wrap classified as Invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(Invalid, err, component, method, action)
}

// WrapFatal is Wrap classified as Fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(Fatal, err, component, method, action)
}

// Operation returns "component.method" of the outermost ClassifiedError in
// err's chain, or "" when there is none.
func Operation(err error) string {
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		return ""
	}
	if ce.Component == "" {
		return ce.Operation
	}
	return ce.Component + "." + ce.Operation
}
