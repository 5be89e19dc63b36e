package shared

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable classification of a failure.
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindInvalidToken    Kind = "INVALID_TOKEN"
	KindForbidden       Kind = "FORBIDDEN"
	KindBadRequest      Kind = "BAD_REQUEST"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindTooManyRequests Kind = "TOO_MANY_REQUESTS"
	KindInternal        Kind = "INTERNAL_SERVER_ERROR"
)

// Error is a domain error carrying its Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by kind so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	// ErrNotFound matches any NotFound error.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrConflict matches any Conflict error.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrInvalidCredentials is returned for unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = &Error{Kind: KindUnauthenticated, Message: "invalid email or password"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) error {
	return newError(KindUnauthenticated, format, args...)
}

func InvalidToken(format string, args ...any) error {
	return newError(KindInvalidToken, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

func BadRequest(format string, args ...any) error {
	return newError(KindBadRequest, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

func TooManyRequests(format string, args ...any) error {
	return newError(KindTooManyRequests, format, args...)
}

// Internal wraps an infrastructure failure. The cause is kept for logs and
// never rendered to callers in production.
func Internal(err error, msg string) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the Kind of err, defaulting to KindInternal for errors that
// never passed through this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
