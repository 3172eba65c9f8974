package model

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error taxonomy
// ============================================================================
//
// Every ledger or lifecycle failure unwraps to exactly one of these sentinels.
// Callers (handler, jobs) branch with errors.Is, never on message text.

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientFunds   = errors.New("insufficient time credits")
	ErrInvalidState        = errors.New("transition not allowed from current status")
	ErrForbidden           = errors.New("actor is not allowed to perform this action")
	ErrInvalidCounterparty = errors.New("rated user is not the counterparty of the rater")
	ErrDuplicateRating     = errors.New("rating already submitted for this session")
	ErrNotFound            = errors.New("record not found")

	// ErrConcurrentUpdate is an optimistic version conflict; the operation changed nothing and may be retried.
	ErrConcurrentUpdate = errors.New("concurrent update, please retry")

	// ErrBusy means an account lock could not be taken in time. Nothing changed.
	ErrBusy = errors.New("account is busy, please retry")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidStateError reports a rejected status transition.
type InvalidStateError struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s: cannot move from %s to %s", e.SessionID, e.From, e.To)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InsufficientFundsError carries the balance seen when a reservation was denied.
type InsufficientFundsError struct {
	UserID    string
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient time credits: user %s has %d available, needs %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
