/*
errors.go - Centralized error types for the deficit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The deficit package wraps these with lifecycle context (which copy failed,
  which stage an action was attempted in).

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation, carry a reason
  2. Authorization errors - PIN mismatch, retryable, no state change
  3. Sink errors - The document sink could not produce a copy
  4. Lookup errors - Record id no longer exists
  5. Concurrency errors - Another action holds the record

USAGE:
  Callers classify with errors.Is / errors.As:

    if errors.Is(err, generic.ErrAuthorizationDenied) {
        // ask for the PIN again
    }

SEE ALSO:
  - deficit/errors.go: SinkError, TransitionError
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class of every input rejected before mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an operation references a record id that
	// does not exist (never created, or deleted).
	ErrNotFound = errors.New("record not found")

	// ErrAuthorizationDenied is returned when the manager PIN does not match.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrSinkUnavailable is returned when the document sink could not produce
	// a settlement document (printer offline, bucket unreachable, ...).
	ErrSinkUnavailable = errors.New("document sink unavailable")

	// ErrInvalidTransition is returned when a workflow action is attempted in
	// a stage that does not accept it.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrBusy is returned when another settlement action holds the record.
	ErrBusy = errors.New("record is busy")

	// ErrStoreRequired is returned when an engine is built without a store.
	ErrStoreRequired = errors.New("a key-value store is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError carries the id that was looked up.
type NotFoundError struct {
	ID RecordID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same call might succeed later without
// changing its input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSinkUnavailable) || errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAuthorizationDenied)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
