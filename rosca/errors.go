/*
errors.go - Centralized error types for the pool engine

PURPOSE:
  All error types in one place. Callers match with errors.Is on the
  sentinels; structured errors carry context and unwrap to a sentinel.

ERROR CATEGORIES:
  1. Schedule errors - member counts, rotation orders, configuration
  2. State errors    - incomplete or out-of-order payouts, closed periods
  3. Store errors    - missing pools, concurrent modification

USAGE:
  if errors.Is(err, rosca.ErrIncompletePeriod) {
      var inc *rosca.IncompletePeriodError
      if errors.As(err, &inc) {
          // inc.Outstanding lists who still owes
      }
  }

SEE ALSO:
  - state.go: raises IncompletePeriodError, PeriodNotFoundError
  - rotation.go: raises RotationOrderError
  - api/handlers.go: maps these to HTTP status codes
*/
package rosca

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMemberCount is returned for a non-positive member count.
	ErrInvalidMemberCount = errors.New("invalid member count")

	// ErrIncompletePeriod is returned when a payout is attempted before every
	// member has contributed, or before earlier periods are paid out.
	ErrIncompletePeriod = errors.New("period contributions incomplete")

	// ErrPeriodNotFound is returned for an index outside [1, MemberLimit].
	ErrPeriodNotFound = errors.New("period not found")

	// ErrDuplicateRotationAssignment means a rotation order is not a
	// permutation. Generated orders never produce it; seeing it is a bug.
	ErrDuplicateRotationAssignment = errors.New("rotation order is not a permutation")

	ErrInvalidRotationMode = errors.New("invalid rotation mode")
	ErrInvalidFrequency    = errors.New("invalid frequency")
	ErrInvalidAmount       = errors.New("contribution amount must be positive")
	ErrInvalidStartDate    = errors.New("start date is required")

	// ErrMemberCountMismatch is returned when the participant list does not
	// fill the pool exactly.
	ErrMemberCountMismatch = errors.New("participant count does not match member limit")

	ErrPoolNotForming = errors.New("pool is not accepting members")
	ErrPoolNotActive  = errors.New("pool is not active")
	ErrPoolFull       = errors.New("pool is full")
	ErrAlreadyMember  = errors.New("already a member of this pool")
	ErrNotMember      = errors.New("not a member of this pool")

	// ErrPeriodClosed is returned when recording into a paid-out period.
	ErrPeriodClosed = errors.New("period already paid out")

	ErrPoolNotFound = errors.New("pool not found")
	ErrPoolExists   = errors.New("pool already exists")

	// ErrConcurrentModification is returned by a store when another writer
	// committed between our read and our write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// IncompletePeriodError lists the members still owing for a period.
type IncompletePeriodError struct {
	PeriodIndex int
	Outstanding []MemberID
}

func (e *IncompletePeriodError) Error() string {
	return fmt.Sprintf("period %d incomplete: %d member(s) outstanding %v",
		e.PeriodIndex, len(e.Outstanding), e.Outstanding)
}

func (e *IncompletePeriodError) Unwrap() error {
	return ErrIncompletePeriod
}

// OutOfOrderPayoutError is returned when an earlier period has not been paid
// out yet. It is a flavour of ErrIncompletePeriod.
type OutOfOrderPayoutError struct {
	PeriodIndex int
	Blocking    int // first earlier period still open
}

func (e *OutOfOrderPayoutError) Error() string {
	return fmt.Sprintf("period %d cannot pay out before period %d", e.PeriodIndex, e.Blocking)
}

func (e *OutOfOrderPayoutError) Unwrap() error {
	return ErrIncompletePeriod
}

type PeriodNotFoundError struct {
	PeriodIndex int
	PeriodCount int
}

func (e *PeriodNotFoundError) Error() string {
	return fmt.Sprintf("period %d not found (pool has %d periods)", e.PeriodIndex, e.PeriodCount)
}

func (e *PeriodNotFoundError) Unwrap() error {
	return ErrPeriodNotFound
}

// RotationOrderError describes why an order is not a permutation.
type RotationOrderError struct {
	Order  []int
	Slot   int // offending value, -1 when the length is wrong
	Reason string
}

func (e *RotationOrderError) Error() string {
	return fmt.Sprintf("rotation order %v: %s", e.Order, e.Reason)
}

func (e *RotationOrderError) Unwrap() error {
	return ErrDuplicateRotationAssignment
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMemberCount) ||
		errors.Is(err, ErrInvalidRotationMode) ||
		errors.Is(err, ErrInvalidFrequency) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidStartDate) ||
		errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrDuplicateRotationAssignment)
}

// IsConflict returns true if the request is valid but the pool's current
// state does not allow it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIncompletePeriod) ||
		errors.Is(err, ErrPoolNotForming) ||
		errors.Is(err, ErrPoolNotActive) ||
		errors.Is(err, ErrPoolFull) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrMemberCountMismatch) ||
		errors.Is(err, ErrPoolExists) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrPeriodNotFound)
}
