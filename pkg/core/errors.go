package core

import (
	"errors"
	"fmt"
)

// Error is the typed error surfaced by the conversation and escalation core.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Entity  string    `json:"entity,omitempty"`
	ID      string    `json:"id,omitempty"`
	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	ErrNotFound       ErrorKind = "not_found"
	ErrConflict       ErrorKind = "conflict"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrUnauthorized   ErrorKind = "unauthorized"
	ErrStorage        ErrorKind = "storage_error"
	ErrInternal       ErrorKind = "internal_error"
)

// NewNotFoundError reports a missing entity by type and id.
func NewNotFoundError(entity, id string) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Message: "not found",
		Entity:  entity,
		ID:      id,
	}
}

// NewConflictError reports a state conflict (e.g. a second active escalation
// for a conversation that already has one).
func NewConflictError(message string) *Error {
	return &Error{
		Kind:    ErrConflict,
		Message: message,
	}
}

// NewInvalidRequestError reports malformed caller input.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Kind:    ErrInvalidRequest,
		Message: message,
	}
}

// NewUnauthorizedError reports a missing or invalid credential.
func NewUnauthorizedError(message string) *Error {
	return &Error{
		Kind:    ErrUnauthorized,
		Message: message,
	}
}

// NewStorageError wraps a durable-store failure. Store failures on the
// conversation path fail loud; callers decide whether to swallow.
func NewStorageError(op string, underlying error) *Error {
	return &Error{
		Kind:    ErrStorage,
		Message: fmt.Sprintf("%s: %v", op, underlying),
		wrapped: underlying,
	}
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message string) *Error {
	return &Error{
		Kind:    ErrInternal,
		Message: message,
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// IsNotFound reports whether err is a not-found core error.
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrNotFound
}

// IsConflict reports whether err is a conflict core error.
func IsConflict(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrConflict
}
