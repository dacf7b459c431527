// Package errors provides typed errors that map onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pscheid92/subathon/internal/domain"
)

// ErrorType is the category used for metrics and response formatting.
type ErrorType string

const (
	TypeValidation ErrorType = "validation" // 400
	TypeNotFound   ErrorType = "not_found"  // 404
	TypeConflict   ErrorType = "conflict"   // 409
	TypeInternal   ErrorType = "internal"   // 500
	TypeExternal   ErrorType = "external"   // 502
	TypeOverloaded ErrorType = "overloaded" // 503
)

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeExternal:
		return http.StatusBadGateway
	case TypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error   { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error   { return newError(TypeConflict, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into an *Error. Domain sentinels map
// to their client-facing category; anything else becomes an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrInvalidSeconds),
		errors.Is(err, domain.ErrInvalidRules),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidRelay):
		return newError(TypeValidation, err.Error(), err)
	case errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrRulesNotFound):
		return newError(TypeNotFound, err.Error(), err)
	case errors.Is(err, domain.ErrTooManyClients):
		return newError(TypeConflict, err.Error(), err)
	case errors.Is(err, domain.ErrQueueFull):
		return newError(TypeOverloaded, err.Error(), err)
	}

	return InternalError("internal server error", err)
}
