// Package enginerr defines the engine's closed error taxonomy.
//
// Validation and permission errors are local: callers turn them into a
// tool_result and let the turn continue. Transport, timeout and internal
// errors end the current turn.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's closed set of error categories.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindPermissionDenied Kind = "permission_denied"
	KindCancelled        Kind = "cancelled"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindIO               Kind = "io"
	KindInternal         Kind = "internal"
)

// Error is the concrete type behind every engine-raised error. It carries
// enough structure for a front-end to render {kind, message, suggestions,
// retryable} inline without a blocking dialog (permissions aside).
type Error struct {
	Kind        Kind
	Message     string
	Suggestions []string
	Retryable   bool
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is (or wraps) an *Error of the same Kind, so
// errors.Is(err, &Error{Kind: k}) compares by Kind alone; most callers
// instead use the Kind-specific helpers below and errors.As to recover the
// *Error.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

func newErr(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Validation wraps a schema, rule, or event-parse mismatch.
func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, false, format, args...)
}

// PermissionDenied wraps a policy, hook, or user rejection.
func PermissionDenied(format string, args ...any) *Error {
	return newErr(KindPermissionDenied, false, format, args...)
}

// Cancelled wraps cooperative cancellation.
func Cancelled(format string, args ...any) *Error {
	return newErr(KindCancelled, false, format, args...)
}

// Timeout wraps a hook, LLM, or tool budget overrun.
func Timeout(format string, args ...any) *Error {
	return newErr(KindTimeout, true, format, args...)
}

// Transport wraps an LLM stream I/O failure.
func Transport(cause error, format string, args ...any) *Error {
	e := newErr(KindTransport, true, format, args...)
	e.Cause = cause
	return e
}

// IO wraps a filesystem error on the log, a tool, or a hook.
func IO(cause error, format string, args ...any) *Error {
	e := newErr(KindIO, false, format, args...)
	e.Cause = cause
	return e
}

// Internal wraps a programming fault; it always bubbles to the Session
// Manager, which ends the turn and logs a system event describing it.
func Internal(cause error, format string, args ...any) *Error {
	e := newErr(KindInternal, false, format, args...)
	e.Cause = cause
	return e
}

// KindOf extracts the Kind from err, or KindInternal if err isn't one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or something it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
