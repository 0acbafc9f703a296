package utils

import (
	"errors"
	"fmt"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// Common error codes
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeAlreadyVerified = "ALREADY_VERIFIED"
	ErrCodeDatabase        = "DATABASE_ERROR"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// hasCode reports whether err is an AppError carrying the given code.
func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether err indicates a missing ledger or log address.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsConflict reports whether err indicates a derived address that was already
// occupied. This is the expected outcome when two writers race on the same
// sequence slot, not a corruption.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsUnavailable reports whether err indicates the external store was
// unreachable or timed out.
func IsUnavailable(err error) bool { return hasCode(err, ErrCodeUnavailable) }

// IsValidation reports whether err indicates malformed input.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsAlreadyVerified reports whether err indicates a proof that was issued on
// an earlier verification of the same event.
func IsAlreadyVerified(err error) bool { return hasCode(err, ErrCodeAlreadyVerified) }
