package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetdeck/fleetdeck/pkg/inventory"
	"github.com/fleetdeck/fleetdeck/pkg/provider"
	"github.com/fleetdeck/fleetdeck/pkg/reconcile"
	"github.com/fleetdeck/fleetdeck/pkg/runner"
	"github.com/fleetdeck/fleetdeck/pkg/stores"
)

// ErrorClass represents the classification of a sync failure.
type ErrorClass string

const (
	// ErrorClassConnectivity covers failures talking to the backend:
	// command failures, non-zero exits, timeouts, oversize output and
	// object storage errors.
	ErrorClassConnectivity ErrorClass = "connectivity"

	// ErrorClassValidation covers bad provider config and unknown providers
	// or groups. These are raised before any external call.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict covers duplicate names.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassInternal covers store and decode failures.
	ErrorClassInternal ErrorClass = "internal"
)

// SyncError is a classified error with context.
type SyncError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Provider is the provider being synced, if any.
	Provider string `json:"provider,omitempty"`

	// Operation is the step that failed (discover, reconcile, commit, ...).
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	prefix := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Provider != "" && e.Operation != "" {
		prefix = fmt.Sprintf("%s (provider=%s, operation=%s)", prefix, e.Provider, e.Operation)
	} else if e.Provider != "" {
		prefix = fmt.Sprintf("%s (provider=%s)", prefix, e.Provider)
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches another SyncError with the same class and code.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConnectivityError creates a new connectivity error.
func NewConnectivityError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassConnectivity, Code: ErrCodeBackendFailed, Message: message, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassValidation, Code: ErrCodeValidation, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassConflict, Code: ErrCodeAlreadyExists, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassInternal, Code: ErrCodeInternal, Message: message, Err: err}
}

// WithProvider adds provider context to an error.
func (e *SyncError) WithProvider(name string) *SyncError {
	e.Provider = name
	return e
}

// WithOperation adds operation context to an error.
func (e *SyncError) WithOperation(operation string) *SyncError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *SyncError) WithCode(code string) *SyncError {
	e.Code = code
	return e
}

// Classify wraps err in a SyncError chosen from the errors in its chain.
// An error that is already classified is returned unchanged.
func Classify(message string, err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	var exitErr *runner.ExitError
	switch {
	case errors.Is(err, provider.ErrNotFound), errors.Is(err, stores.ErrNotFound):
		return NewValidationError(message, err).WithCode(ErrCodeNotFound)
	case errors.Is(err, provider.ErrInvalid),
		errors.Is(err, inventory.ErrInvalid),
		errors.Is(err, reconcile.ErrMismatch):
		return NewValidationError(message, err)
	case errors.Is(err, provider.ErrExists), errors.Is(err, inventory.ErrExists):
		return NewConflictError(message, err)
	case errors.Is(err, runner.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewConnectivityError(message, err).WithCode(ErrCodeTimeout)
	case errors.Is(err, runner.ErrOutputTooLarge):
		return NewConnectivityError(message, err).WithCode(ErrCodeOutputTooLarge)
	case errors.As(err, &exitErr):
		return NewConnectivityError(message, err).WithCode(ErrCodeCommandFailed)
	}
	return NewInternalError(message, err)
}

// ClassOf returns the class of err, or ErrorClassInternal when it carries
// none.
func ClassOf(err error) ErrorClass {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsConnectivity returns true if the error is classified as connectivity.
func IsConnectivity(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConnectivity
	}
	return false
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInternal
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeOutputTooLarge = "OUTPUT_TOO_LARGE"
	ErrCodeCommandFailed  = "COMMAND_FAILED"
	ErrCodeBackendFailed  = "BACKEND_FAILED"
	ErrCodePolicyDenied   = "POLICY_DENIED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)
