package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the request boundary can map it to a stable response.
type Kind string

// Error kinds surfaced to callers.
const (
	KindInvalidInput     Kind = "invalid_input"
	KindUnknownVoice     Kind = "unknown_voice"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindSynthesisFailed  Kind = "synthesis_failed"
	KindStoreUnavailable Kind = "store_unavailable"
	KindIO               Kind = "io_error"
)

// Error is the structured failure returned across package boundaries.
// Diagnostic holds operator-only detail (engine stderr) and is never sent to clients.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Diagnostic string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Wrap attaches kind, op and message to err. An err that already carries a
// *Error is returned unchanged so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DiagnosticOf returns the operator diagnostic attached to err, if any.
func DiagnosticOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Diagnostic
	}

	return ""
}
