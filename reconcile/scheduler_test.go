package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-ledger/ledger"
	"github.com/warp/fulfillment-ledger/reconcile"
)

func newTestScheduler(f *fixture) *reconcile.Scheduler {
	s := reconcile.NewScheduler(f.store, f.reconciler)
	s.Interval = time.Hour // sweeps are driven manually via RunNow
	return s
}

func TestScheduler_SweepRepairsDriftedOrders(t *testing.T) {
	// GIVEN: Two orders, one of them with a corrupted remaining quantity
	// WHEN: A sweep runs
	// THEN: The drifted line is repaired; the consistent order untouched

	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)

	require.NoError(t, f.store.SaveOrder(ctx, ledger.Order{
		ID: "ord-2", Code: "ORD-2026-000002", Active: true,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.store.SaveOrderLine(ctx, ledger.OrderLine{
		ID: "line-b", OrderID: "ord-2", Product: "gadget",
		Requested: 40, Remaining: 40, CreatedAt: time.Now().UTC(),
	}))

	f.store.Corrupt(f.lineID, 95)

	corrected := newTestScheduler(f).RunNow(ctx)
	assert.Equal(t, 1, corrected)

	line, err := f.store.GetOrderLine(ctx, f.lineID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), line.Remaining)

	other, err := f.store.GetOrderLine(ctx, "line-b")
	require.NoError(t, err)
	assert.Equal(t, int64(40), other.Remaining)
}

func TestScheduler_SweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	s := newTestScheduler(f)
	assert.Equal(t, 1, s.RunNow(ctx))
	assert.Equal(t, 0, s.RunNow(ctx), "second sweep must find nothing to fix")
}

func TestScheduler_SkipsInactiveOrders(t *testing.T) {
	// A deactivated order is out of the sweep's scope even when drifted.
	ctx := context.Background()
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	order.Active = false
	require.NoError(t, f.store.SaveOrder(ctx, *order))

	assert.Equal(t, 0, newTestScheduler(f).RunNow(ctx))

	line, err := f.store.GetOrderLine(ctx, f.lineID)
	require.NoError(t, err)
	assert.Equal(t, int64(95), line.Remaining, "inactive orders are left alone")
}

func TestScheduler_StartStop(t *testing.T) {
	// The background loop runs one immediate sweep and shuts down cleanly.
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	s := newTestScheduler(f)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := f.store.GetOrderLine(context.Background(), f.lineID)
		require.NoError(t, err)
		if line.Remaining == 70 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("initial sweep did not repair the line in time")
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, 30)
	f.store.Corrupt(f.lineID, 95)

	s := newTestScheduler(f)
	s.Enabled = false
	s.Start()
	s.Stop() // must not block or panic with no loop running

	line, err := f.store.GetOrderLine(context.Background(), f.lineID)
	require.NoError(t, err)
	assert.Equal(t, int64(95), line.Remaining)
}
