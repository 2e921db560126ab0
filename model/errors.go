package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Consultation engine error codes.
const (
	ErrPrerequisitesNotMet   = "PREREQUISITES_NOT_MET"
	ErrNoProgressData        = "NO_PROGRESS_DATA"
	ErrInvalidConsensusInput = "INVALID_CONSENSUS_INPUT"
)

// ErrorEnvelope is the error type returned by every engine operation and
// rendered verbatim by the HTTP layer. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsCode reports whether err (or anything it wraps) is an *ErrorEnvelope
// carrying the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	if !errors.As(err, &ee) {
		return false
	}
	return ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewPrerequisitesNotMetError reports the prerequisites of milestoneID that
// are not yet completed.
func NewPrerequisitesNotMetError(milestoneID string, missing []string) *ErrorEnvelope {
	details := make([]FieldError, 0, len(missing))
	for _, id := range missing {
		details = append(details, FieldError{
			Field:   "prerequisites",
			Code:    "NOT_COMPLETED",
			Message: fmt.Sprintf("milestone %s is not completed", id),
		})
	}
	return &ErrorEnvelope{
		Code:    ErrPrerequisitesNotMet,
		Message: fmt.Sprintf("prerequisites of milestone %s are not met", milestoneID),
		Details: details,
	}
}

// NewNoProgressDataError returns a NO_PROGRESS_DATA error for a workflow that
// has never been snapshotted.
func NewNoProgressDataError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoProgressData,
		Message: fmt.Sprintf("no progress data available for workflow %s", workflowID),
	}
}

// NewInvalidConsensusInputError returns an INVALID_CONSENSUS_INPUT error.
func NewInvalidConsensusInputError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidConsensusInput, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
