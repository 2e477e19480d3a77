// Package domain provides the error kinds and identity types shared by the
// proxy's translation, forwarding and storage layers.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a proxy error.
type ErrorKind string

const (
	// ErrorKindUnsupportedMethod indicates an inbound request with a method other than GET.
	ErrorKindUnsupportedMethod ErrorKind = "unsupported_method"

	// ErrorKindTranslation indicates a malformed proxy path or target URL.
	ErrorKindTranslation ErrorKind = "translation"

	// ErrorKindForwardingExhausted indicates every forwarding attempt failed.
	ErrorKindForwardingExhausted ErrorKind = "forwarding_exhausted"

	// ErrorKindSerialization indicates a body claiming to be JSON that is not.
	ErrorKindSerialization ErrorKind = "serialization"

	// ErrorKindStoreIO indicates a failure writing a contract document to disk.
	ErrorKindStoreIO ErrorKind = "store_io"

	// ErrorKindStartupLoad indicates a contract document that could not be loaded at startup.
	ErrorKindStartupLoad ErrorKind = "startup_load"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrUnsupportedMethod   = &Error{Kind: ErrorKindUnsupportedMethod}
	ErrTranslation         = &Error{Kind: ErrorKindTranslation}
	ErrForwardingExhausted = &Error{Kind: ErrorKindForwardingExhausted}
	ErrSerialization       = &Error{Kind: ErrorKindSerialization}
	ErrStoreIO             = &Error{Kind: ErrorKindStoreIO}
	ErrStartupLoad         = &Error{Kind: ErrorKindStartupLoad}
)

// Error is a proxy error carrying its kind, the operation that failed and
// the underlying cause.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind

	// Op names the failing operation, e.g. "translate" or "persist"
	Op string

	// Message is an optional human-readable detail
	Message string

	// Err is the underlying cause, if any
	Err error
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatusCode returns the status used when this error aborts a proxied request.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindUnsupportedMethod:
		return http.StatusMethodNotAllowed
	case ErrorKindTranslation:
		return http.StatusBadRequest
	case ErrorKindForwardingExhausted, ErrorKindSerialization:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode maps any error to an HTTP status. Errors that are not *Error
// map to 500.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
