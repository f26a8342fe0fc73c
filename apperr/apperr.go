// Package apperr defines the error taxonomy shared across the module.
// Types classify failures for audit logging and user messaging; they never
// drive control flow on their own.
package apperr

import (
	"errors"
	"fmt"
)

// Type classifies an error.
type Type string

const (
	TypeNetwork        Type = "network"
	TypeAuthentication Type = "authentication"
	TypeAuthorization  Type = "authorization"
	TypeValidation     Type = "validation"
	TypeAPI            Type = "api"
	TypeNotFound       Type = "not_found"
	TypeUnexpected     Type = "unexpected"
)

// Severity grades an event for audit logging.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity maps an error type to the severity used when auditing it.
// The mapping informs logging only; propagation is decided by the caller.
func (t Type) Severity() Severity {
	switch t {
	case TypeAuthentication, TypeAuthorization:
		return SeverityMedium
	case TypeAPI, TypeNetwork:
		return SeverityHigh
	case TypeValidation, TypeNotFound:
		return SeverityLow
	default:
		return SeverityHigh
	}
}

// Error is a classified error. It wraps the underlying cause, so errors.Is
// and errors.As keep working through it.
type Error struct {
	Type  Type
	Msg   string
	cause error
}

func New(t Type, msg string) *Error {
	return &Error{Type: t, Msg: msg}
}

func Wrap(t Type, msg string, cause error) *Error {
	return &Error{Type: t, Msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

// TypeOf returns the Type of the first *Error in err's chain, or
// TypeUnexpected if none is present.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeUnexpected
}
