package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-ledger/codes"
	"github.com/warp/fulfillment-ledger/delivery"
	"github.com/warp/fulfillment-ledger/ledger"
	"github.com/warp/fulfillment-ledger/ledger/store"
	"github.com/warp/fulfillment-ledger/reconcile"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store      *store.Memory
	deliveries *delivery.Service
	reconciler *reconcile.Service
	orderID    ledger.OrderID
	lineID     ledger.OrderLineID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	alloc := codes.New(st)
	alloc.Sleep = func(time.Duration) {}

	order := ledger.Order{
		ID: "ord-1", Code: "ORD-2026-000001", Active: true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveOrder(ctx, order))
	line := ledger.OrderLine{
		ID: "line-1", OrderID: order.ID, Product: "widget",
		Requested: 100, Remaining: 100, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveOrderLine(ctx, line))

	return &fixture{
		store:      st,
		deliveries: delivery.NewService(st, alloc),
		reconciler: reconcile.NewService(st),
		orderID:    order.ID,
		lineID:     line.ID,
	}
}

func (f *fixture) deliver(t *testing.T, qty int64) *ledger.Delivery {
	t.Helper()
	d, err := f.deliveries.Create(context.Background(), f.orderID,
		[]delivery.LineInput{{OrderLineID: f.lineID, Quantity: qty, UnitPrice: decimal.NewFromInt(5)}},
		time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	return d
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestRecalculate_ConsistentOrderCorrectsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)

	report, err := f.reconciler.Recalculate(ctx, f.orderID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinesTotal)
	assert.Empty(t, report.Corrections)
}

func TestRecalculate_RepairsCorruptedLine(t *testing.T) {
	// GIVEN: A line whose stored remaining disagrees with its delivery
	//        history (30 delivered, so 70 is correct, but 95 is stored)
	// WHEN: Recalculate runs
	// THEN: The line is corrected from history and the fix is audited

	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	report, err := f.reconciler.Recalculate(ctx, f.orderID)
	require.NoError(t, err)
	require.Len(t, report.Corrections, 1)
	c := report.Corrections[0]
	assert.Equal(t, f.lineID, c.OrderLineID)
	assert.Equal(t, int64(95), c.Before)
	assert.Equal(t, int64(70), c.After)
	assert.Equal(t, int64(30), c.Delivered)

	line, err := f.store.GetOrderLine(ctx, f.lineID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), line.Remaining)

	entries, err := f.store.AuditEntries(ctx, ledger.AuditFilter{OrderLineID: &f.lineID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.OpRepair, entries[0].Kind)
}

func TestRecalculate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	first, err := f.reconciler.Recalculate(ctx, f.orderID)
	require.NoError(t, err)
	require.Len(t, first.Corrections, 1)

	second, err := f.reconciler.Recalculate(ctx, f.orderID)
	require.NoError(t, err)
	assert.Empty(t, second.Corrections, "second run must find nothing to fix")

	// Exactly one REPAIR entry total, from the first run.
	entries, err := f.store.AuditEntries(ctx, ledger.AuditFilter{OrderLineID: &f.lineID, Limit: 10})
	require.NoError(t, err)
	repairs := 0
	for _, e := range entries {
		if e.Kind == ledger.OpRepair {
			repairs++
		}
	}
	assert.Equal(t, 1, repairs)
}

func TestRecalculate_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Recalculate(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAuditLog_FilterAndLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	line2 := ledger.OrderLine{
		ID: "line-2", OrderID: f.orderID, Product: "gadget",
		Requested: 50, Remaining: 50, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveOrderLine(ctx, line2))

	f.deliver(t, 10)
	f.deliver(t, 20)
	_, err := f.deliveries.Create(ctx, f.orderID,
		[]delivery.LineInput{{OrderLineID: line2.ID, Quantity: 5, UnitPrice: decimal.Zero}},
		time.Now(), "")
	require.NoError(t, err)

	// Unfiltered, default limit: every entry, newest first.
	all, err := f.reconciler.AuditLog(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, line2.ID, all[0].OrderLineID)

	// Filtered to one line.
	lineID := f.lineID
	mine, err := f.reconciler.AuditLog(ctx, &lineID, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(20), mine[0].Delta)
	assert.Equal(t, int64(10), mine[1].Delta)

	// Limit caps the result.
	capped, err := f.reconciler.AuditLog(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}
