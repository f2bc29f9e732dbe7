// Package apperr defines the error taxonomy shared by all txgate components.
//
// Domain operations return *Error values tagged with a Kind; the HTTP
// boundary maps kinds to status codes uniformly. Storage and other
// unexpected failures are wrapped as KindInternal and the detail is only
// logged server-side.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for boundary mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAccountLocked  Kind = "account_locked"
	KindStepUpRequired Kind = "step_up_required"
	KindAuthorization  Kind = "authorization"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal"
)

// Error is a typed domain error.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindAccountLocked so the boundary can tell the
	// client when attempts may resume.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation creates a KindValidation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Authentication creates a KindAuthentication error.
func Authentication(message string) *Error {
	return New(KindAuthentication, message)
}

// Locked creates a KindAccountLocked error carrying the remaining lockout.
func Locked(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindAccountLocked,
		Message:    "account temporarily locked due to repeated failures",
		RetryAfter: retryAfter,
	}
}

// StepUpRequired creates a KindStepUpRequired error.
func StepUpRequired(message string) *Error {
	return New(KindStepUpRequired, message)
}

// Authorization creates a KindAuthorization error.
func Authorization(message string) *Error {
	return New(KindAuthorization, message)
}

// Conflict creates a KindConflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// NotFound creates a KindNotFound error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Internal wraps an unexpected failure. The cause is preserved for logging
// but never surfaced to clients.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
