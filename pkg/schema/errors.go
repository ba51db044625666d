package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeStepNotFound      = "STEP_NOT_FOUND"
	ErrCodeActionExecution   = "ACTION_EXECUTION_ERROR"
	ErrCodePathFailure       = "PATH_FAILURE"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeFilter            = "FILTER_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeVault             = "VAULT_ERROR"
)

// SovriumError is the structured error type shared by the engine and its collaborators.
type SovriumError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	StepPath string         `json:"step_path,omitempty"`
	Cause    error          `json:"-"`
}

func (e *SovriumError) Error() string {
	if e.StepPath != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepPath, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SovriumError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SovriumError.
func NewError(code, message string) *SovriumError {
	return &SovriumError{Code: code, Message: message}
}

// NewErrorf creates a new SovriumError with a formatted message.
func NewErrorf(code, format string, args ...any) *SovriumError {
	return &SovriumError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a dotted step path to the error.
func (e *SovriumError) WithStep(path string) *SovriumError {
	e.StepPath = path
	return e
}

// WithCause attaches an underlying cause.
func (e *SovriumError) WithCause(err error) *SovriumError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SovriumError) WithDetails(details map[string]any) *SovriumError {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) a SovriumError with the given code.
func IsCode(err error, code string) bool {
	var se *SovriumError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// Message returns the human readable part of err: the Message of a
// SovriumError, or err.Error() for anything else.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *SovriumError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
