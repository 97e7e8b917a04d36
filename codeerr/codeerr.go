// Package codeerr defines the structured error taxonomy shared by every
// component of the code-intelligence server. A *codeerr.Error carries a Kind
// that the HTTP layer maps to a status code in one place instead of each
// handler guessing at string contents.
package codeerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of failure a component reported.
type Kind string

const (
	ConfigInvalid        Kind = "config-invalid"
	ValidationFailed     Kind = "validation-failed"
	NotFound             Kind = "not-found"
	ADRIllegalTransition Kind = "adr-illegal-transition"
	QueueFull            Kind = "queue-full"
	VectorUnavailable    Kind = "vector-unavailable"
	EmbedderUnavailable  Kind = "embedder-unavailable"
	VectorSchemaMismatch Kind = "vector-schema-mismatch"
	CacheDegraded        Kind = "cache-degraded"
	IndexFailed          Kind = "index-failed"
	InternalError        Kind = "internal-error"
)

// Error is the structured error type returned by every component operation
// that can fail in a way callers need to branch on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error with the given kind, message, and wrapped cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *codeerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to InternalError when err is
// not a *codeerr.Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return InternalError
}

// HTTPStatus maps an error Kind to the HTTP status code §7 of the
// specification assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ValidationFailed:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ADRIllegalTransition:
		return http.StatusConflict
	case QueueFull:
		return http.StatusServiceUnavailable
	case VectorUnavailable, EmbedderUnavailable:
		return http.StatusServiceUnavailable
	case VectorSchemaMismatch:
		return http.StatusConflict
	case ConfigInvalid:
		return http.StatusInternalServerError
	case IndexFailed:
		return http.StatusInternalServerError
	case InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
