package shared

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the service boundary.
type Kind string

func (k Kind) Error() string { return string(k) }

// Error kinds. Each maps to one boundary status code in httpx.
const (
	ErrUnauthorized    Kind = "unauthorized"
	ErrForbidden       Kind = "forbidden"
	ErrValidation      Kind = "validation_error"
	ErrStateConflict   Kind = "state_conflict"
	ErrDuplicateAction Kind = "duplicate_action"
	ErrStorageFailure  Kind = "storage_failure"
	ErrNotFound        Kind = "not_found"
)

// Error carries a machine-readable code and a user-safe reason.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on the Kind, or on Kind and Code for *Error targets.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// Validation builds a ValidationError.
func Validation(code, reason string) *Error { return NewError(ErrValidation, code, reason) }

// Conflict builds a StateConflict error.
func Conflict(code, reason string) *Error { return NewError(ErrStateConflict, code, reason) }

// Forbidden builds a Forbidden error.
func Forbidden(code, reason string) *Error { return NewError(ErrForbidden, code, reason) }

// NotFound builds a NotFound error.
func NotFound(code, reason string) *Error { return NewError(ErrNotFound, code, reason) }

// Validationf formats a ValidationError reason.
func Validationf(code, format string, args ...any) *Error {
	return Validation(code, fmt.Sprintf(format, args...))
}

// Storage wraps a persistence failure.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrStorageFailure, Code: "storage_failure", Reason: op, Err: err}
}

// KindOf reports the Kind of err, defaulting to StorageFailure for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if k, ok := err.(Kind); ok {
		return k
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ErrStorageFailure
}

// IsDuplicate reports whether err signals an idempotent replay.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateAction)
}

// Duplicate wraps an idempotent replay; ref identifies the pre-existing result.
func Duplicate(code string, ref any) *Error {
	return &Error{Kind: ErrDuplicateAction, Code: code, Reason: fmt.Sprintf("already processed as %v", ref)}
}
