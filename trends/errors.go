package trends

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the fetch pipeline.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindConnectionReset     ErrorKind = "retryable.connection_reset"
	KindTimeout             ErrorKind = "retryable.timeout"
	KindPoolExhausted       ErrorKind = "retryable.pool_exhausted"
	KindInvalidParameters   ErrorKind = "fatal.invalid_parameters"
	KindNotFound            ErrorKind = "fatal.not_found"
	KindQueryFailed         ErrorKind = "fatal.query"
	KindExhausted           ErrorKind = "exhausted"
	KindAllDimensionsFailed ErrorKind = "all_dimensions_failed"

	// KindPartialFailure is never carried by an error value; it labels a
	// successful record with Partial set.
	KindPartialFailure ErrorKind = "partial_failure"
)

// Retryable reports whether a failure of this kind is worth another attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnectionReset, KindTimeout, KindPoolExhausted:
		return true
	default:
		return false
	}
}

// Fatal reports whether the kind is a non-retryable upstream failure.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindInvalidParameters, KindNotFound, KindQueryFailed:
		return true
	default:
		return false
	}
}

// Error is the error type surfaced by the executor, orchestrator and sessions.
type Error struct {
	Kind     ErrorKind
	Op       string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// NewError builds an *Error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
