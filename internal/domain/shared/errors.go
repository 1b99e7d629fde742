// Package shared contains common domain types, errors, events, and value objects
// shared by every domain package.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Identity
	ErrUnauthenticated = errors.New("unauthenticated")

	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidID       = errors.New("invalid ID")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Concurrency errors. The store rejected a conditional write because another
	// writer got there first; retry with fresh reads.
	ErrConflictRace = errors.New("concurrent write conflict")

	// Infrastructure errors. Transient; retry with bounded backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "points", "achievement"
	Op      string // Operation that failed, e.g., "Record", "Award"
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

// Progress domain errors
var (
	ErrLessonNotFound         = NewDomainError("progress", "Find", ErrNotFound, "lesson not found")
	ErrCourseNotFound         = NewDomainError("progress", "Find", ErrNotFound, "course not found")
	ErrLessonNotInCourse      = NewDomainError("progress", "Validate", ErrNotFound, "lesson does not belong to course")
	ErrLessonProgressNotFound = NewDomainError("progress", "FindLesson", ErrNotFound, "lesson progress not found")
	ErrCourseProgressNotFound = NewDomainError("progress", "FindCourse", ErrNotFound, "course progress not found")
	ErrNoUserContext          = NewDomainError("identity", "Resolve", ErrUnauthenticated, "no authenticated user")
)

// Points and achievement domain errors
var (
	ErrLearnerNotFound     = NewDomainError("learner", "Find", ErrNotFound, "learner not found")
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAlreadyEarned       = NewDomainError("achievement", "Grant", ErrAlreadyExists, "achievement already earned")
	ErrAlreadyGranted      = NewDomainError("points", "Award", ErrAlreadyExists, "points already granted for this key")
	ErrZeroPoints          = NewDomainError("points", "Validate", ErrInvalidInput, "points must be non-zero")
	ErrUnknownReason       = NewDomainError("points", "Validate", ErrInvalidInput, "unknown points reason")
	ErrInvalidPeriod       = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid leaderboard period")
)

// IsUnauthenticated checks if the error is an identity error.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

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
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is a concurrent write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflictRace)
}

// IsUnavailable checks if the error is a transient infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return IsConflict(err) || IsUnavailable(err)
}
