package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error taxonomy. Stage code wraps one of these so the orchestrator can
// classify failures without string matching.
var (
	ErrTransient      = errors.New("transient remote failure")
	ErrPermanent      = errors.New("permanent remote failure")
	ErrLocalIO        = errors.New("local io failure")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAllPagesFailed = errors.New("all pages failed")
	ErrCanceled       = errors.New("canceled")
)

// Kind is the persisted classification of an error.
type Kind string

const (
	KindTransient      Kind = "transient"
	KindPermanent      Kind = "permanent"
	KindLocalIO        Kind = "local_io"
	KindSchemaMismatch Kind = "schema_mismatch"
	KindInvalidInput   Kind = "invalid_input"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// LocalIO marks a filesystem failure.
func LocalIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrLocalIO, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// Classify maps err onto the error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrLocalIO):
		return KindLocalIO
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindLocalIO
	}
	if errors.Is(err, ErrAllPagesFailed) {
		return KindPermanent
	}
	return KindUnknown
}
