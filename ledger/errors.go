/*
errors.go - Centralized error taxonomy for the fulfillment ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Other packages (delivery, reconcile, api) wrap these with context
  rather than defining their own.

ERROR CATEGORIES:
  1. Quantity errors    - invariant violations caught before any write
  2. Lifecycle errors   - status machine violations
  3. Referential errors - lookups that found nothing
  4. Allocator errors   - sequential code generation failures
  5. Guard errors       - attempts to bypass the ledger

USAGE:
  if errors.Is(err, ledger.ErrInsufficientRemaining) { ... }

  var short *ledger.InsufficientRemainingError
  if errors.As(err, &short) {
      fmt.Println(short.Available, short.Requested)
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
	// ErrInvalidQuantity is returned for a non-positive delivered quantity
	// on creation, or any delta that would push remaining quantity outside
	// [0, requested]. Never silently clamped.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientRemaining is returned when a proposed delivered
	// quantity (or increase) exceeds the line's current remaining quantity.
	// Retrying with the same value will fail again.
	ErrInsufficientRemaining = errors.New("insufficient remaining quantity")

	// ErrInvalidStatusTransition is returned for a delivery status change
	// not permitted from the current state.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrDirectMutationForbidden is returned when anything other than
	// Apply/Repair tries to write an order line's remaining quantity.
	// This indicates a programming error in a caller, not a user mistake.
	ErrDirectMutationForbidden = errors.New("direct mutation of remaining quantity forbidden")

	// ErrAllocationExhausted is returned when sequential code generation
	// ran out of retry attempts. Transient: the whole operation is safe
	// to retry.
	ErrAllocationExhausted = errors.New("identifier allocation exhausted")

	// ErrCodeTaken signals a uniqueness collision on a sequential code.
	// Stores translate their UNIQUE violations into this so the allocator
	// can tell a lost race from a real failure.
	ErrCodeTaken = errors.New("code already taken")

	// ErrDuplicateOrderLine is returned when a delivery would hold two
	// lines for the same order line.
	ErrDuplicateOrderLine = errors.New("duplicate order line in delivery")

	// Referential lookup failures.
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderInactive     = errors.New("order is not active")
	ErrOrderLineNotFound = errors.New("order line not found")
	ErrDeliveryNotFound  = errors.New("delivery not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientRemainingError details a remaining-quantity shortage.
type InsufficientRemainingError struct {
	OrderLineID OrderLineID
	Available   int64
	Requested   int64
}

func (e *InsufficientRemainingError) Error() string {
	return fmt.Sprintf("insufficient remaining quantity on line %s: available %d, requested %d",
		e.OrderLineID, e.Available, e.Requested)
}

func (e *InsufficientRemainingError) Unwrap() error {
	return ErrInsufficientRemaining
}

// QuantityRangeError details a delta or repair that would leave remaining
// quantity outside [0, requested]. On a reversal this means the recorded
// delivery history itself is corrupt.
type QuantityRangeError struct {
	OrderLineID OrderLineID
	Remaining   int64
	Requested   int64
}

func (e *QuantityRangeError) Error() string {
	return fmt.Sprintf("quantity out of range on line %s: remaining would be %d of %d requested",
		e.OrderLineID, e.Remaining, e.Requested)
}

func (e *QuantityRangeError) Unwrap() error {
	return ErrInvalidQuantity
}

// TransitionError details a rejected delivery status transition.
type TransitionError struct {
	From DeliveryStatus
	To   DeliveryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition delivery from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInsufficientRemaining) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrDuplicateOrderLine) ||
		errors.Is(err, ErrOrderInactive)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderLineNotFound) ||
		errors.Is(err, ErrDeliveryNotFound)
}

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllocationExhausted) ||
		errors.Is(err, ErrCodeTaken)
}
