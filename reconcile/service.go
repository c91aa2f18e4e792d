/*
Package reconcile recomputes remaining quantities from delivery history
and repairs discrepancies.

PURPOSE:
  If anything ever desynchronizes an order line's remaining quantity
  from its authoritative delivery history - a bug, a bad migration, a
  hand-edited database - this service is the designated repair path. It
  writes through the same privileged ledger path as Apply and records a
  REPAIR audit entry per correction.

IDEMPOTENCY:
  Recalculate run twice with no intervening writes corrects nothing the
  second time and logs nothing for untouched lines.

SCHEDULING:
  On demand (HTTP) or from any scheduler; each run is one transaction,
  so it serializes against concurrent Applies on the same lines and its
  computed values cannot go stale before the write.
*/
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/fulfillment-ledger/ledger"
)

// Report lists the corrections one Recalculate run made. Empty
// Corrections means every line already satisfied the invariant.
type Report struct {
	OrderID     ledger.OrderID
	LinesTotal  int
	Corrections []ledger.Correction
	RanAt       time.Time
}

// Service runs ledger repairs and serves audit queries.
type Service struct {
	store ledger.TxStore
	now   func() time.Time
}

func NewService(store ledger.TxStore) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Recalculate recomputes every line of the order from its delivery
// history and corrects discrepancies through the ledger's repair path.
// Consistent lines are left untouched and unlogged.
func (s *Service) Recalculate(ctx context.Context, orderID ledger.OrderID) (*Report, error) {
	report := &Report{OrderID: orderID, RanAt: s.now()}

	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		order, err := st.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, orderID)
		}

		lines, err := st.OrderLines(ctx, orderID)
		if err != nil {
			return err
		}
		report.LinesTotal = len(lines)

		led := ledger.New(st)
		for _, line := range lines {
			c, err := led.Repair(ctx, line.ID)
			if err != nil {
				return err
			}
			if c != nil {
				report.Corrections = append(report.Corrections, *c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// AuditLog returns the most recent limit audit entries, newest first,
// optionally filtered to one order line. Read-only.
func (s *Service) AuditLog(ctx context.Context, orderLineID *ledger.OrderLineID, limit int) ([]ledger.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.AuditEntries(ctx, ledger.AuditFilter{
		OrderLineID: orderLineID,
		Limit:       limit,
	})
}
