// Package shared contains common domain types, errors and events used across
// all domain packages. This package has zero external dependencies.
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

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidRule     = errors.New("invalid rule")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "achievement", "progress", "member"
	Op      string // operation that failed, e.g. "Create", "Grant"
	Kind    error  // base error for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
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

// Is implements errors.Is() matching against both Kind and Err.
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

// Member (collaborator) errors
var (
	ErrMemberNotFound          = NewDomainError("member", "Find", ErrNotFound, "member not found")
	ErrCollaboratorUnavailable = NewDomainError("member", "Read", ErrServiceUnavailable, "collaborator data unavailable")
)

// Achievement catalog errors
var (
	ErrAchievementNotFound  = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAchievementCodeTaken = NewDomainError("achievement", "Create", ErrAlreadyExists, "achievement code already exists")
	ErrUnknownRuleKind      = NewDomainError("achievement", "Evaluate", ErrInvalidRule, "unknown rule kind")
	ErrPrerequisiteMissing  = NewDomainError("achievement", "Validate", ErrNotFound, "prerequisite achievement not found")
	ErrPrerequisiteCycle    = NewDomainError("achievement", "Validate", ErrValidation, "prerequisites form a cycle")
	ErrAchievementInactive  = NewDomainError("achievement", "Grant", ErrInvalidState, "achievement is not active")
	ErrCatalogEditConflict  = NewDomainError("achievement", "Update", ErrOptimisticLock, "achievement was modified concurrently")
)

// Progress (ledger) errors
var (
	ErrProgressNotFound  = NewDomainError("progress", "Find", ErrNotFound, "member progress not found")
	ErrStreakContention  = NewDomainError("progress", "RecordCheckIn", ErrConcurrentModification, "streak update lost the race")
	ErrLedgerUnavailable = NewDomainError("progress", "Write", ErrServiceUnavailable, "ledger store unavailable")
	ErrGrantIncomplete   = NewDomainError("progress", "Grant", ErrServiceUnavailable, "unlock recorded but ledger grant did not complete")
)

// Event and query errors
var (
	ErrInvalidEvent      = NewDomainError("event", "Validate", ErrInvalidInput, "invalid gamification event")
	ErrInvalidPeriod     = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid ranking period")
	ErrInvalidSecretCode = NewDomainError("achievement", "Redeem", ErrInvalidInput, "secret code did not match any achievement")
	ErrRedeemDisabled    = NewDomainError("achievement", "Redeem", ErrForbidden, "secret code redemption is disabled")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidRule)
}

// IsConflict checks if the error reports a lost optimistic update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOptimisticLock) || errors.Is(err, ErrAlreadyExists)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
