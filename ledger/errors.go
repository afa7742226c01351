/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is/errors.As against the sentinels.

ERROR CATEGORIES:
  1. Validation errors - malformed or policy-violating input
  2. Duplicate fact errors - uniqueness constraint violations
  3. Permission errors - role-based authorization failures
  4. Store errors - transient persistence failures (retryable)

Insufficient balance is deliberately NOT in this taxonomy: a deduction
that exceeds the balance is a normal boolean outcome, not a fault.

USAGE:
  if errors.Is(err, ledger.ErrDuplicateFact) {
      // benign for achievement credits, conflict otherwise
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input-validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateFact is returned when a uniqueness constraint is violated.
	// CreditAchievement treats it as a no-op; everything else surfaces it
	// as a conflict.
	ErrDuplicateFact = errors.New("duplicate fact")

	// ErrPermissionDenied is returned on role-based authorization failure.
	// Never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreUnavailable is a transient storage/timeout fault, safe to
	// retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending field/key
// =============================================================================

// ValidationError names the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validationf builds a ValidationError in one line.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DuplicateFactError names the fact table and the conflicting key.
type DuplicateFactError struct {
	Fact string // e.g. "achievement_unlock"
	Key  string // e.g. "user=u-1 achievement=a-1"
}

func (e *DuplicateFactError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Fact, e.Key)
}

func (e *DuplicateFactError) Unwrap() error { return ErrDuplicateFact }

// PermissionError names the role and the action it was denied.
type PermissionError struct {
	Role   Role
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: role %q may not %s", e.Role, e.Action)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a transient persistence fault with the operation name.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateFact) ||
		errors.Is(err, ErrPermissionDenied)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
