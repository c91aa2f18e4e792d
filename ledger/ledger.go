/*
ledger.go - The quantity ledger's mutation primitives

PURPOSE:
  The Ledger is the only code path allowed to change an order line's
  remaining quantity. Everything - creating, amending, and reversing
  delivery lines - is expressed as a signed delivered-quantity delta:

    INSERT of quantity d        -> Apply(+d)
    UPDATE from d0 to d1        -> Apply(d1 - d0)
    DELETE of quantity d        -> Apply(-d)

  The delta design exists precisely so all three share one primitive and
  one validation path.

CRITICAL INVARIANTS:
  1. Every successful Apply writes exactly one AuditEntry.
  2. Remaining quantity never leaves [0, requested], not even transiently.
  3. No code outside this package can obtain the write Authorization.

THE GUARD:
  The original system enforced "no manual overwrite" with a database
  trigger reading a session flag. Here the same contract is a module
  boundary: Authorization has an unexported field, grant() is unexported,
  so Apply and Repair are provably the only producers of a valid token.

CONCURRENCY:
  A Ledger instance is a thin stateless wrapper over a Store; construct
  one over a transaction-scoped Store inside WithTx to get atomicity with
  the surrounding delivery writes. Serialization of concurrent Applies to
  the same line is the store's job.

SEE ALSO:
  - store.go: the SetRemaining contract
  - delivery/service.go: the orchestration calling Apply
  - reconcile/service.go: the repair path calling Repair
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUTHORIZATION - Capability token for the guarded write
// =============================================================================

// Authorization permits one SetRemaining call. A zero Authorization is
// invalid; the only constructor is unexported, so only this package can
// mint a valid token.
type Authorization struct {
	granted bool
}

// Granted reports whether the token came from the ledger itself.
// Store implementations call this before honoring SetRemaining.
func (a Authorization) Granted() bool {
	return a.granted
}

func grant() Authorization {
	return Authorization{granted: true}
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger applies audited delivered-quantity deltas to order lines.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger over a store. Pass a transaction-scoped store
// (from TxStore.WithTx) when the delta must commit atomically with other
// writes.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Apply atomically adjusts the order line's remaining quantity by a
// delivered-quantity delta and records an audit entry. Positive deltas
// consume remaining quantity, negative deltas restore it. Returns the
// new remaining quantity.
//
// deliveryLineID names the delivery line whose change triggered the
// delta and ends up on the audit entry.
func (l *Ledger) Apply(ctx context.Context, op OpKind, lineID OrderLineID, deliveryLineID DeliveryLineID, delta int64) (int64, error) {
	if delta == 0 {
		// A zero delta means either a zero-quantity insert or an update
		// to the same value; neither is a recordable ledger event.
		return 0, fmt.Errorf("%w: zero delta on line %s", ErrInvalidQuantity, lineID)
	}

	line, err := l.store.GetOrderLine(ctx, lineID)
	if err != nil {
		return 0, err
	}
	if line == nil {
		return 0, fmt.Errorf("%w: %s", ErrOrderLineNotFound, lineID)
	}

	if delta > 0 && delta > line.Remaining {
		return 0, &InsufficientRemainingError{
			OrderLineID: lineID,
			Available:   line.Remaining,
			Requested:   delta,
		}
	}

	remaining := line.Remaining - delta
	if remaining > line.Requested {
		// A reversal restored more than was ever requested: the recorded
		// delivery history is corrupt. Surface, never clamp.
		return 0, &QuantityRangeError{
			OrderLineID: lineID,
			Remaining:   remaining,
			Requested:   line.Requested,
		}
	}

	if err := l.store.SetRemaining(ctx, lineID, remaining, grant()); err != nil {
		return 0, err
	}

	dlID := deliveryLineID
	entry := AuditEntry{
		ID:             uuid.NewString(),
		Kind:           op,
		OrderLineID:    lineID,
		DeliveryLineID: &dlID,
		Before:         line.Remaining,
		After:          remaining,
		Delta:          delta,
		RecordedAt:     l.now(),
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		return 0, err
	}

	return remaining, nil
}

// Remaining returns the line's current remaining quantity. The store's
// serialization guarantees the read never observes a partially-applied
// Apply from a concurrent transaction.
func (l *Ledger) Remaining(ctx context.Context, lineID OrderLineID) (int64, error) {
	line, err := l.store.GetOrderLine(ctx, lineID)
	if err != nil {
		return 0, err
	}
	if line == nil {
		return 0, fmt.Errorf("%w: %s", ErrOrderLineNotFound, lineID)
	}
	return line.Remaining, nil
}

// =============================================================================
// REPAIR - The privileged recomputation path
// =============================================================================

// Correction records one repaired discrepancy.
type Correction struct {
	OrderLineID OrderLineID
	Before      int64
	After       int64
	Delivered   int64 // total delivered quantity the correction was computed from
}

// Repair recomputes the line's correct remaining quantity from its full
// delivery history and corrects any discrepancy, recording a REPAIR audit
// entry. Returns nil when the line was already consistent, which makes
// repeated runs idempotent.
//
// Repair rides the same store serialization as Apply: run it inside
// WithTx so its computed value cannot go stale before the write.
func (l *Ledger) Repair(ctx context.Context, lineID OrderLineID) (*Correction, error) {
	line, err := l.store.GetOrderLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderLineNotFound, lineID)
	}

	delivered, err := l.store.DeliveredTotal(ctx, lineID)
	if err != nil {
		return nil, err
	}

	correct := line.Requested - delivered
	if correct < 0 || correct > line.Requested {
		// The history itself sums outside what the line allows; no value
		// of remaining can satisfy the invariant.
		return nil, &QuantityRangeError{
			OrderLineID: lineID,
			Remaining:   correct,
			Requested:   line.Requested,
		}
	}

	if correct == line.Remaining {
		return nil, nil
	}

	if err := l.store.SetRemaining(ctx, lineID, correct, grant()); err != nil {
		return nil, err
	}

	entry := AuditEntry{
		ID:          uuid.NewString(),
		Kind:        OpRepair,
		OrderLineID: lineID,
		Before:      line.Remaining,
		After:       correct,
		Delta:       line.Remaining - correct,
		RecordedAt:  l.now(),
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}

	return &Correction{
		OrderLineID: lineID,
		Before:      line.Remaining,
		After:       correct,
		Delivered:   delivered,
	}, nil
}
