package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// Configuration errors. Fatal at startup.
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingCredential = errors.New("missing credential")

	// Input errors. Abort the current ingestion run before the index is touched.
	ErrNotFound     = errors.New("source not found")
	ErrTooLarge     = errors.New("source too large")
	ErrUnparseable  = errors.New("source unparseable")
	ErrInvalidInput = errors.New("invalid input")

	// Index state errors.
	ErrEmptyIndex        = errors.New("vector index is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrServiceTimeout and ErrServiceCanceled are matched by ServiceError.Is.
	ErrServiceTimeout  = errors.New("service timeout")
	ErrServiceCanceled = errors.New("service canceled")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// NewConfigError creates a ConfigError wrapping ErrInvalidConfig.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InputError reports a problem with a source document.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ServiceError wraps a failure of an external collaborator (embedding model,
// vector index, text generation).
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrServiceTimeout) and errors.Is(err, ErrServiceCanceled)
// match without the caller inspecting the cause.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrServiceTimeout:
		return e.Timeout()
	case ErrServiceCanceled:
		return e.Canceled()
	}
	return false
}

// Timeout reports whether the call hit a deadline.
func (e *ServiceError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Canceled reports whether the call was canceled by the caller.
func (e *ServiceError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// WrapService wraps err as a ServiceError. A nil err stays nil and an error
// that is already a ServiceError is returned unchanged.
func WrapService(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}
