// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	// Ledger errors
	ErrInvalidAmount       = errors.New("XP amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient available XP")

	// Reward errors. These are expected race outcomes, not failures: callers
	// receive them as false/no-op results and must never log them as errors.
	ErrAlreadyAwarded       = errors.New("reward already claimed")
	ErrChallengeNotJoinable = errors.New("challenge not joinable")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Store errors. ErrTransientStore covers lock timeouts, deadlocks and
	// connection loss; the calling component may retry once with backoff.
	ErrTransientStore = errors.New("transient store failure")
	ErrConflict       = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "badge", "challenge", "leaderboard"
	Op      string // Operation that failed, e.g., "Earn", "Join"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation or business-rule error
// that should surface to the API layer for user-facing messaging.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsExpectedRace reports whether the error is an expected concurrent outcome
// (lost an award race, challenge filled up) rather than a failure.
func IsExpectedRace(err error) bool {
	return errors.Is(err, ErrAlreadyAwarded) || errors.Is(err, ErrChallengeNotJoinable)
}

// IsTransient reports whether the operation may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConflict)
}
