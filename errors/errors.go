// Package errors provides the coarse error-kind classification used at
// every boundary of the enrollment, ingestion, and certificate-lifecycle
// subsystem (spec §7). A NivlError is the only error type that should
// cross a handler boundary; anything else is wrapped as Internal.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorKind provides a coarse category for NivlErrors.
type ErrorKind int

const (
	Internal ErrorKind = iota
	BadRequest
	Forbidden
	Gone
	Busy
)

// NivlError represents a classified error surfaced at a component
// boundary.
type NivlError struct {
	Kind   ErrorKind
	Detail string
}

func (e *NivlError) Error() string {
	return e.Detail
}

// New is a convenience function for creating a new NivlError.
func New(kind ErrorKind, msg string, args ...interface{}) error {
	return &NivlError{
		Kind:   kind,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is reports whether err is a NivlError of the given kind.
func Is(err error, kind ErrorKind) bool {
	nErr, ok := err.(*NivlError)
	if !ok {
		return false
	}
	return nErr.Kind == kind
}

func InternalError(msg string, args ...interface{}) error {
	return New(Internal, msg, args...)
}

func BadRequestError(msg string, args ...interface{}) error {
	return New(BadRequest, msg, args...)
}

func ForbiddenError(msg string, args ...interface{}) error {
	return New(Forbidden, msg, args...)
}

func GoneError(msg string, args ...interface{}) error {
	return New(Gone, msg, args...)
}

func BusyError(msg string, args ...interface{}) error {
	return New(Busy, msg, args...)
}

// HTTPStatus maps an ErrorKind to the status code spec §7 assigns it.
// Busy is intentionally mapped to 200: the client treats it as a retry
// hint, not a failure (spec §4.3 step 1).
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case BadRequest:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case Gone:
		return http.StatusGone
	case Busy:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf returns the HTTP status an error should produce if it were
// written at a boundary, defaulting to 500 for unclassified errors.
func StatusOf(err error) int {
	nErr, ok := err.(*NivlError)
	if !ok {
		return http.StatusInternalServerError
	}
	return HTTPStatus(nErr.Kind)
}
