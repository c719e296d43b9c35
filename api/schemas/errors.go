package schemas

import (
	"context"
	"errors"
)

// ErrorCode defines standardized codes for step failures.
type ErrorCode string

const (
	ErrCodeNoRecipeMatched        ErrorCode = "NO_RECIPE_MATCHED"
	ErrCodeExtractionTransport    ErrorCode = "EXTRACTION_TRANSPORT_FAILURE"
	ErrCodeTargetNotFound         ErrorCode = "TARGET_NOT_FOUND"
	ErrCodeInteractionTransient   ErrorCode = "INTERACTION_TRANSIENT_FAILURE"
	ErrCodeInteractionFailed      ErrorCode = "INTERACTION_FAILED"
	ErrCodeStepBudgetExceeded     ErrorCode = "STEP_BUDGET_EXCEEDED"
	ErrCodeUnsupportedInstruction ErrorCode = "UNSUPPORTED_INSTRUCTION_FORMAT"
	ErrCodeNavigation             ErrorCode = "NAVIGATION_ERROR"
	ErrCodeTransport              ErrorCode = "TRANSPORT_FAILURE"
	ErrCodeTimeout                ErrorCode = "TIMEOUT_ERROR"
	ErrCodeUnknown                ErrorCode = "UNKNOWN_ERROR"
)

// Error kinds shared by the recipe engine, the resolver and the session.
var (
	// ErrNoRecipeMatched is recoverable: resolution degrades to live lookups.
	ErrNoRecipeMatched = errors.New("no recipe matched")
	// ErrExtractionTransport ends the session.
	ErrExtractionTransport = errors.New("extraction transport failure")
	// ErrTargetNotFound means every resolution strategy came up empty.
	ErrTargetNotFound = errors.New("target not found")
	// ErrInteractionFailed means a target resolved but every way of acting on
	// it failed.
	ErrInteractionFailed = errors.New("interaction failed")
	// ErrStepBudgetExceeded is a terminal condition, not a failure.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrUnsupportedInstruction is recorded as a failed step; the session continues.
	ErrUnsupportedInstruction = errors.New("unsupported instruction format")
	// ErrNavigation wraps failed page loads.
	ErrNavigation = errors.New("navigation failed")
)

// CodeOf maps err to its ErrorCode.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtractionTransport):
		return ErrCodeExtractionTransport
	case errors.Is(err, ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, ErrNoRecipeMatched):
		return ErrCodeNoRecipeMatched
	case errors.Is(err, ErrTargetNotFound):
		return ErrCodeTargetNotFound
	case errors.Is(err, ErrUnsupportedInstruction):
		return ErrCodeUnsupportedInstruction
	case errors.Is(err, ErrStepBudgetExceeded):
		return ErrCodeStepBudgetExceeded
	case errors.Is(err, ErrInteractionFailed):
		return ErrCodeInteractionFailed
	case IsTransient(err):
		return ErrCodeInteractionTransient
	case errors.Is(err, ErrNavigation):
		return ErrCodeNavigation
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeUnknown
	}
}

// IsFatal reports whether err must terminate the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrExtractionTransport)
}
