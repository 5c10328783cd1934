// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an outcome the caller is expected to handle.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidState    Kind = "invalid_state"
	KindConflict        Kind = "conflict"
	KindPolicyViolation Kind = "policy_violation"
	KindValidation      Kind = "validation"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Error is a user-facing failure carrying a kind and a specific message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return Newf(KindUnauthorized, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return Newf(KindInvalidState, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return Newf(KindConflict, format, args...)
}

func PolicyViolation(format string, args ...interface{}) *Error {
	return Newf(KindPolicyViolation, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error to the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalidState, KindPolicyViolation, KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
