/*
Package ledger is the quantity-ledger core of the fulfillment system.

PURPOSE:
  Tracks, for every order line, how much of the requested quantity is
  still undelivered. The single invariant the whole system exists to
  protect:

    quantity_remaining == quantity_requested - sum(delivered quantities)

  Remaining quantity is mutated ONLY through the Ledger (Apply/Repair).
  Every mutation is recorded as an immutable AuditEntry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Order / OrderLine: the aggregate being delivered against
  - Delivery / DeliveryLine: a shipment event and its per-line quantities
  - AuditEntry: one immutable record per remaining-quantity change
  - OpKind: what triggered the change (insert/update/delete/repair)

DESIGN PRINCIPLES:
  1. Delta-based: inserts, updates and deletes of delivery lines are all
     the same primitive - a signed delivered-quantity delta.
  2. Precision: unit prices use decimal.Decimal; quantities are integers.
  3. Type Safety: strong typing for IDs prevents mixing order/delivery IDs.
  4. Auditability: every change carries before/after/delta and a timestamp.

SEE ALSO:
  - ledger.go: the Apply/Repair mutation primitives
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type OrderLineID string
type DeliveryID string
type DeliveryLineID string

// =============================================================================
// ORDER - The aggregate deliveries are recorded against
// =============================================================================

// Order is a purchase order. Its per-line quantities live on OrderLine;
// order-level totals are derived, never stored.
type Order struct {
	ID        OrderID
	Code      string // human-readable sequential code, e.g. ORD-2026-000042
	Reference string // free-form customer/PO reference
	Active    bool
	CreatedAt time.Time
}

// OrderLine is one product line of an order.
//
// INVARIANTS:
//   - Requested is a positive integer, immutable after creation.
//   - 0 <= Remaining <= Requested at all times.
//   - Remaining is written only through Ledger.Apply and Ledger.Repair.
type OrderLine struct {
	ID        OrderLineID
	OrderID   OrderID
	Product   string
	Requested int64
	Remaining int64
	CreatedAt time.Time
}

// Delivered returns how much of the line has been delivered so far,
// derived from the invariant.
func (l OrderLine) Delivered() int64 {
	return l.Requested - l.Remaining
}

// OrderTotals are order-level aggregates, computed on demand from the
// order's lines rather than stored and recomputed on every write.
type OrderTotals struct {
	Requested int64
	Delivered int64
	Remaining int64
}

// TotalsOf sums line quantities into order-level totals.
func TotalsOf(lines []OrderLine) OrderTotals {
	var t OrderTotals
	for _, l := range lines {
		t.Requested += l.Requested
		t.Remaining += l.Remaining
		t.Delivered += l.Delivered()
	}
	return t
}

// =============================================================================
// DELIVERY - A shipment event against an order
// =============================================================================

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusInTransit DeliveryStatus = "IN_TRANSIT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusCancelled DeliveryStatus = "CANCELLED"
)

var allStatuses = [...]DeliveryStatus{
	StatusPending, StatusInTransit, StatusDelivered, StatusCancelled,
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Delivery owns zero or more DeliveryLines. Deleting a delivery cascades
// to its lines; each removed line is compensated in the ledger within the
// same unit of work.
type Delivery struct {
	ID        DeliveryID
	OrderID   OrderID
	Code      string // human-readable sequential code, e.g. DEL-000108
	Date      time.Time
	Status    DeliveryStatus
	Lines     []DeliveryLine
	CreatedAt time.Time
}

// DeliveryLine is one delivered quantity against one OrderLine within a
// Delivery. At most one line per (Delivery, OrderLine) pair.
//
// INVARIANT: Quantity > 0.
type DeliveryLine struct {
	ID          DeliveryLineID
	DeliveryID  DeliveryID
	OrderLineID OrderLineID
	Quantity    int64
	UnitPrice   decimal.Decimal
}

// Total is the line amount: quantity * unit price.
func (l DeliveryLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// =============================================================================
// AUDIT ENTRY - Immutable record of one remaining-quantity change
// =============================================================================

// OpKind identifies which mutation produced an audit entry.
type OpKind string

const (
	OpInsert OpKind = "INSERT"
	OpUpdate OpKind = "UPDATE"
	OpDelete OpKind = "DELETE"
	OpRepair OpKind = "REPAIR"
)

// AuditEntry records one change of an order line's remaining quantity.
// Entries are append-only: no update or delete operation exists anywhere
// in the store contract.
//
// INVARIANT: After - Before == -Delta, where Delta is the delivered-quantity
// delta that triggered the change.
type AuditEntry struct {
	ID             string
	Kind           OpKind
	OrderLineID    OrderLineID
	DeliveryLineID *DeliveryLineID // nil for REPAIR entries
	Before         int64
	After          int64
	Delta          int64
	RecordedAt     time.Time
}

// AuditFilter narrows an audit query. Entries are returned newest-first.
type AuditFilter struct {
	OrderLineID *OrderLineID
	Limit       int
}
