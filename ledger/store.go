/*
store.go - Persistence interfaces for the fulfillment ledger

PURPOSE:
  Defines the boundary between domain logic and the database. Different
  implementations can use SQLite or in-memory storage; the transactional
  guarantees come from the store, not from in-process locking.

KEY INTERFACES:
  Store:   all reads/writes for orders, deliveries, audit entries
  TxStore: wraps Store operations in one atomic unit of work

THE GUARDED WRITE:
  SetRemaining is the one write that can violate the quantity invariant,
  so it demands an Authorization token. The only code that can produce a
  valid token lives in this package (Apply and Repair). Implementations
  MUST reject a zero token with ErrDirectMutationForbidden and leave the
  stored value untouched.

APPEND-ONLY AUDIT:
  AppendAudit is the only audit write. There is no update or delete.

ATOMIC UNITS OF WORK:
  WithTx ensures all-or-nothing semantics. A delivery mutation writes the
  delivery rows, the ledger adjustment, and the audit entry inside one
  WithTx call; a failure anywhere rolls back everything. Implementations
  must serialize concurrent WithTx bodies touching the same order line so
  two writers can never both act on the same stale remaining quantity.

IMPLEMENTATIONS:
  - store/sqlite: durable SQLite store (production)
  - ledger/store: in-memory store (tests/dev)
*/
package ledger

import "context"

// Store handles persistence of orders, deliveries, and the audit trail.
type Store interface {
	// Orders.
	SaveOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	SaveOrderLine(ctx context.Context, l OrderLine) error
	GetOrderLine(ctx context.Context, id OrderLineID) (*OrderLine, error)
	OrderLines(ctx context.Context, id OrderID) ([]OrderLine, error)

	// OrderIDs lists every active order, for sweep-style consumers such
	// as the scheduled reconciliation runner.
	OrderIDs(ctx context.Context) ([]OrderID, error)

	// SetRemaining writes an order line's remaining quantity. The ONLY
	// legitimate callers are Ledger.Apply and Ledger.Repair; everything
	// else gets ErrDirectMutationForbidden.
	SetRemaining(ctx context.Context, id OrderLineID, remaining int64, auth Authorization) error

	// Deliveries. SaveOrder and SaveDelivery return ErrCodeTaken when the
	// sequential code lost a race to a concurrent allocator.
	SaveDelivery(ctx context.Context, d Delivery) error
	GetDelivery(ctx context.Context, id DeliveryID) (*Delivery, error)
	SetDeliveryStatus(ctx context.Context, id DeliveryID, status DeliveryStatus) error
	SaveDeliveryLine(ctx context.Context, l DeliveryLine) error
	UpdateDeliveryLine(ctx context.Context, l DeliveryLine) error
	DeleteDeliveryLine(ctx context.Context, id DeliveryLineID) error
	DeleteDelivery(ctx context.Context, id DeliveryID) error

	// DeliveredTotal sums the delivered quantities of every delivery line
	// referencing the order line. This is the authoritative history the
	// repair path recomputes from.
	DeliveredTotal(ctx context.Context, id OrderLineID) (int64, error)

	// MaxSequence returns the highest sequence number ever issued for a
	// code prefix, including codes of since-deleted records. Zero when
	// none exist. Retired codes are never reused.
	MaxSequence(ctx context.Context, prefix string) (int, error)

	// Audit trail. Append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. If fn returns an error,
	// every write made through the passed Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
