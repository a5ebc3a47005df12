package apperrors

import (
	"errors"
	"fmt"
)

// AppError is a classified error carrying the Kind that determines how the
// pipeline propagates it (spec.md §7).
type AppError struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Component, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError of the given kind.
func New(kind Kind, component, message string) *AppError {
	return &AppError{Kind: kind, Component: component, Message: message}
}

// Wrap builds an AppError of the given kind around an underlying cause.
func Wrap(kind Kind, component, message string, err error) *AppError {
	return &AppError{Kind: kind, Component: component, Message: message, Err: err}
}

// Validation constructs a KindValidation error.
func Validation(component, message string) *AppError {
	return New(KindValidation, component, message)
}

// Transient constructs a KindTransient error.
func Transient(component, message string, err error) *AppError {
	return Wrap(KindTransient, component, message, err)
}

// Integrity constructs a KindIntegrity error.
func Integrity(component, message string) *AppError {
	return New(KindIntegrity, component, message)
}

// Capacity constructs a KindCapacity error.
func Capacity(component, message string) *AppError {
	return New(KindCapacity, component, message)
}

// Authorization constructs a KindAuthorization error. The message is for the
// audit log only; callers must never surface it to the requester (spec.md §7
// says "do not reveal reason beyond 'forbidden'").
func Authorization(component, message string) *AppError {
	return New(KindAuthorization, component, message)
}

// Invariant constructs a KindInvariant error.
func Invariant(component, message string) *AppError {
	return New(KindInvariant, component, message)
}

// KindOf extracts the Kind from err, defaulting to KindValidation when err
// does not carry one.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindValidation
}

// Is reports whether err is (or wraps) an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Kind == kind
}
