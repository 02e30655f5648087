package api

import (
	"errors"
	"fmt"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/store"
)

// ErrorKind is one of the seven boundary error kinds every operation
// translates its failures into, per spec §6.
type ErrorKind string

const (
	KindValidation   ErrorKind = "ValidationError"
	KindNotFound     ErrorKind = "NotFound"
	KindConflict     ErrorKind = "Conflict"
	KindUnauthorized ErrorKind = "Unauthorized"
	KindUnavailable  ErrorKind = "Unavailable"
	KindTimeout      ErrorKind = "Timeout"
	KindInternal     ErrorKind = "Internal"
)

// Error is the single top-level error kind + short human message every
// operation returns, per spec §6/§7. Internal stack traces never surface —
// Unwrap exists for tests and logging, not for callers to inspect.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func validationErr(format string, args ...interface{}) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...), nil)
}

// IsKind reports whether err (or something it wraps) is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// translate maps a component error into the boundary taxonomy. Any error
// not already shaped as *Error and not recognized as a known sentinel
// becomes KindInternal — components never leak raw error chains to callers.
func translate(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, store.ErrNotFound) {
		return newErr(KindNotFound, op+": not found", err)
	}
	var dim *embedding.DimensionMismatch
	if errors.As(err, &dim) {
		return newErr(KindInternal, op+": embedding dimension mismatch", err)
	}
	return newErr(KindInternal, op+" failed", err)
}
