// Package coreerr defines the closed set of error kinds used across the
// assistant core. Every public operation that can fail returns (or wraps)
// one of these kinds so callers — HTTP handlers, the scheduler tick, tool
// handlers — can branch on failure class without parsing error strings.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the five error classes an Error belongs to.
type Kind int

const (
	// Internal marks a programmer error or violated invariant.
	Internal Kind = iota
	// Validation marks malformed input; no state change occurred.
	Validation
	// NotFound marks a missing or soft-deleted referent.
	NotFound
	// Upstream marks a non-2xx or malformed response from a remote collaborator.
	Upstream
	// Storage marks a database/driver failure.
	Storage
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Upstream:
		return "upstream"
	case Storage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// Internal otherwise — a safe default for errors that escaped this
// package's constructors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
