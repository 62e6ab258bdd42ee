/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these with additional context where useful.

ERROR CATEGORIES:
  1. Validation errors - malformed or missing input
  2. Not-found errors  - unknown account / reward / referral
  3. Business errors   - insufficient points, unavailable reward,
                         self/duplicate referral
  4. Store errors      - idempotency conflicts, persistence failures

PROPAGATION POLICY:
  Every error is terminal for the invoking operation. The engine never
  retries internally: retrying a failed debit must not double-apply, so
  retry decisions belong to the caller (reads are freely retryable).

USAGE:
  if errors.Is(err, ledger.ErrInsufficientPoints) { ... }

  var ipe *ledger.InsufficientPointsError
  if errors.As(err, &ipe) {
      fmt.Printf("need %d, have %d\n", ipe.Required, ipe.Available)
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
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is the root of all unknown-identifier failures.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientPoints is returned when a redemption exceeds the
	// account's available balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrRewardUnavailable is returned when a reward is inactive or its
	// redemption limit has been reached.
	ErrRewardUnavailable = errors.New("reward unavailable")

	// ErrSelfReferral is returned when an account tries to refer itself.
	ErrSelfReferral = errors.New("cannot refer yourself")

	// ErrDuplicateReferral is returned when a referral record already
	// exists for the (referrer, referred) pair.
	ErrDuplicateReferral = errors.New("referral already processed")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyMember is returned when membership activation is requested
	// for an account that already joined.
	ErrAlreadyMember = errors.New("already a member")
)

// =============================================================================
// STRUCTURED ERRORS - Carry enough detail to render a user-facing message
// =============================================================================

// ValidationError describes a single malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Resource string // "account", "reward", "referral"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientPointsError reports a balance shortfall on redemption.
type InsufficientPointsError struct {
	AccountID AccountID
	Required  int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: required %d, available %d",
		e.Required, e.Available)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// RewardUnavailableError reports why a reward cannot be redeemed.
type RewardUnavailableError struct {
	RewardID string
	Reason   string // "inactive" or "limit_reached"
}

func (e *RewardUnavailableError) Error() string {
	return fmt.Sprintf("reward %s unavailable: %s", e.RewardID, e.Reason)
}

func (e *RewardUnavailableError) Unwrap() error { return ErrRewardUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to the caller's input or
// state rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrRewardUnavailable) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrDuplicateReferral) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyMember)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
