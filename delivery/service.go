/*
Package delivery orchestrates the delivery lifecycle.

PURPOSE:
  The only entry points for creating, amending, and removing deliveries.
  Every line-item change is paired, inside the same atomic unit of work,
  with exactly one compensating ledger adjustment:

    line added            -> Apply(+quantity)
    line changed d0 -> d1 -> Apply(d1 - d0)
    line removed          -> Apply(-quantity)

  Validation always happens against a fresh read inside the transaction.
  A pre-check under one transaction and a write under another would be a
  check-then-act race, not an acceptable shortcut.

STATE MACHINE:
  PENDING -> IN_TRANSIT | DELIVERED | CANCELLED
  IN_TRANSIT -> DELIVERED | CANCELLED
  DELIVERED, CANCELLED: terminal. Deliveries are created in PENDING or
  DELIVERED (caller-selectable).

CODE ALLOCATION:
  Each allocator attempt wraps the complete creation transaction, so a
  lost code race rolls everything back and retries cleanly.

SEE ALSO:
  - ledger/ledger.go: the Apply primitive
  - status.go: transition rules
*/
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-ledger/codes"
	"github.com/warp/fulfillment-ledger/ledger"
)

// LineInput is one proposed delivered quantity against one order line.
type LineInput struct {
	OrderLineID ledger.OrderLineID
	Quantity    int64
	UnitPrice   decimal.Decimal
}

// Update describes a partial delivery mutation. Nil fields are left
// untouched; a non-nil Lines replaces the delivery's whole line set.
type Update struct {
	Lines  *[]LineInput
	Status *ledger.DeliveryStatus
}

// Service is the delivery lifecycle orchestrator.
type Service struct {
	store ledger.TxStore
	alloc *codes.Allocator
	now   func() time.Time
}

func NewService(store ledger.TxStore, alloc *codes.Allocator) *Service {
	return &Service{
		store: store,
		alloc: alloc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create records a new delivery against an order. Status defaults to
// PENDING; DELIVERED is the only other status a delivery may start in.
// The delivery, its lines, and every ledger adjustment commit in one
// atomic unit of work per allocation attempt.
func (s *Service) Create(ctx context.Context, orderID ledger.OrderID, lines []LineInput, date time.Time, status ledger.DeliveryStatus) (*ledger.Delivery, error) {
	if status == "" {
		status = ledger.StatusPending
	}
	if status != ledger.StatusPending && status != ledger.StatusDelivered {
		return nil, fmt.Errorf("%w: delivery cannot be created in status %s", ledger.ErrInvalidStatusTransition, status)
	}
	if err := validateLineInputs(lines); err != nil {
		return nil, err
	}

	var created *ledger.Delivery
	_, err := s.alloc.Next(ctx, codes.DeliveryPrefix, func(code string) error {
		return s.store.WithTx(ctx, func(st ledger.Store) error {
			order, err := st.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if order == nil {
				return fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, orderID)
			}
			if !order.Active {
				return fmt.Errorf("%w: %s", ledger.ErrOrderInactive, orderID)
			}

			d := ledger.Delivery{
				ID:        ledger.DeliveryID(uuid.NewString()),
				OrderID:   orderID,
				Code:      code,
				Date:      date,
				Status:    status,
				CreatedAt: s.now(),
			}
			// Insert the delivery first so a code collision fails the
			// attempt before any ledger write.
			if err := st.SaveDelivery(ctx, d); err != nil {
				return err
			}

			led := ledger.New(st)
			for _, in := range lines {
				dl, err := s.addLine(ctx, st, led, &d, in)
				if err != nil {
					return err
				}
				d.Lines = append(d.Lines, *dl)
			}

			created = &d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// addLine persists one delivery line and applies its positive delta.
// The fresh order-line read inside the transaction is the authoritative
// validation; any earlier caller-side snapshot is advisory only.
func (s *Service) addLine(ctx context.Context, st ledger.Store, led *ledger.Ledger, d *ledger.Delivery, in LineInput) (*ledger.DeliveryLine, error) {
	line, err := st.GetOrderLine(ctx, in.OrderLineID)
	if err != nil {
		return nil, err
	}
	if line == nil || line.OrderID != d.OrderID {
		return nil, fmt.Errorf("%w: %s on order %s", ledger.ErrOrderLineNotFound, in.OrderLineID, d.OrderID)
	}

	dl := ledger.DeliveryLine{
		ID:          ledger.DeliveryLineID(uuid.NewString()),
		DeliveryID:  d.ID,
		OrderLineID: in.OrderLineID,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
	}
	if err := st.SaveDeliveryLine(ctx, dl); err != nil {
		return nil, err
	}
	if _, err := led.Apply(ctx, ledger.OpInsert, in.OrderLineID, dl.ID, in.Quantity); err != nil {
		return nil, err
	}
	return &dl, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// ApplyUpdate amends a delivery's status and/or replaces its line set.
// Removed lines restore their quantity, changed lines apply the
// difference, added lines consume - all inside one transaction, so no
// intermediate inconsistent state is ever visible to a concurrent reader.
func (s *Service) ApplyUpdate(ctx context.Context, id ledger.DeliveryID, upd Update) (*ledger.Delivery, error) {
	if upd.Lines != nil {
		if err := validateLineInputs(*upd.Lines); err != nil {
			return nil, err
		}
	}

	var updated *ledger.Delivery
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		d, err := st.GetDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("%w: %s", ledger.ErrDeliveryNotFound, id)
		}

		if upd.Status != nil && *upd.Status != d.Status {
			if err := ValidateTransition(d.Status, *upd.Status); err != nil {
				return err
			}
			if err := st.SetDeliveryStatus(ctx, d.ID, *upd.Status); err != nil {
				return err
			}
			d.Status = *upd.Status
		}

		if upd.Lines != nil {
			if err := s.replaceLines(ctx, st, d, *upd.Lines); err != nil {
				return err
			}
		}

		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// replaceLines swaps the delivery's line set for the proposed one,
// expressing every difference as a ledger delta.
func (s *Service) replaceLines(ctx context.Context, st ledger.Store, d *ledger.Delivery, inputs []LineInput) error {
	led := ledger.New(st)

	existing := make(map[ledger.OrderLineID]ledger.DeliveryLine, len(d.Lines))
	for _, dl := range d.Lines {
		existing[dl.OrderLineID] = dl
	}

	var next []ledger.DeliveryLine
	for _, in := range inputs {
		old, ok := existing[in.OrderLineID]
		if !ok {
			dl, err := s.addLine(ctx, st, led, d, in)
			if err != nil {
				return err
			}
			next = append(next, *dl)
			continue
		}
		delete(existing, in.OrderLineID)

		dl := old
		dl.Quantity = in.Quantity
		dl.UnitPrice = in.UnitPrice
		if dl.Quantity != old.Quantity || !dl.UnitPrice.Equal(old.UnitPrice) {
			if err := st.UpdateDeliveryLine(ctx, dl); err != nil {
				return err
			}
		}
		// The quantity change is a delta, never an absolute overwrite.
		if delta := in.Quantity - old.Quantity; delta != 0 {
			if _, err := led.Apply(ctx, ledger.OpUpdate, in.OrderLineID, dl.ID, delta); err != nil {
				return err
			}
		}
		next = append(next, dl)
	}

	// Whatever the proposal no longer mentions is removed and restored.
	for _, old := range existing {
		if err := st.DeleteDeliveryLine(ctx, old.ID); err != nil {
			return err
		}
		if _, err := led.Apply(ctx, ledger.OpDelete, old.OrderLineID, old.ID, -old.Quantity); err != nil {
			return err
		}
	}

	d.Lines = next
	return nil
}

// =============================================================================
// REMOVE
// =============================================================================

// Remove deletes a delivery, cascading to its lines, and restores every
// delivered quantity to its order line in the same transaction.
func (s *Service) Remove(ctx context.Context, id ledger.DeliveryID) error {
	return s.store.WithTx(ctx, func(st ledger.Store) error {
		d, err := st.GetDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("%w: %s", ledger.ErrDeliveryNotFound, id)
		}

		led := ledger.New(st)
		for _, dl := range d.Lines {
			if _, err := led.Apply(ctx, ledger.OpDelete, dl.OrderLineID, dl.ID, -dl.Quantity); err != nil {
				return err
			}
		}
		return st.DeleteDelivery(ctx, d.ID)
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateLineInputs(lines []LineInput) error {
	seen := make(map[ledger.OrderLineID]bool, len(lines))
	for _, in := range lines {
		if in.Quantity <= 0 {
			return fmt.Errorf("%w: delivered quantity must be a positive integer, got %d", ledger.ErrInvalidQuantity, in.Quantity)
		}
		if in.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: negative unit price", ledger.ErrInvalidQuantity)
		}
		if seen[in.OrderLineID] {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateOrderLine, in.OrderLineID)
		}
		seen[in.OrderLineID] = true
	}
	return nil
}
