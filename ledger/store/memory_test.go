package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-ledger/ledger"
)

func seed(t *testing.T, m *Memory) ledger.OrderLine {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveOrder(ctx, ledger.Order{
		ID: "ord-1", Code: "ORD-2026-000001", Active: true, CreatedAt: time.Now().UTC(),
	}))
	line := ledger.OrderLine{
		ID: "line-1", OrderID: "ord-1", Requested: 100, Remaining: 100,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.SaveOrderLine(ctx, line))
	return line
}

func TestWithTx_RestoresSnapshotOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	line := seed(t, m)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(st ledger.Store) error {
		require.NoError(t, st.SaveDelivery(ctx, ledger.Delivery{
			ID: "del-1", OrderID: "ord-1", Code: "DEL-000001",
			Status: ledger.StatusPending, CreatedAt: time.Now().UTC(),
		}))
		led := ledger.New(st)
		if _, err := led.Apply(ctx, ledger.OpInsert, line.ID, "dl-1", 30); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetOrderLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Remaining)

	d, err := m.GetDelivery(ctx, "del-1")
	require.NoError(t, err)
	assert.Nil(t, d)

	// The code freed by the rollback is allocatable again.
	max, err := m.MaxSequence(ctx, "DEL-")
	require.NoError(t, err)
	assert.Equal(t, 0, max)
}

func TestCodesSurviveDeletion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)

	require.NoError(t, m.SaveDelivery(ctx, ledger.Delivery{
		ID: "del-1", OrderID: "ord-1", Code: "DEL-000003",
		Status: ledger.StatusPending, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, m.DeleteDelivery(ctx, "del-1"))

	max, err := m.MaxSequence(ctx, "DEL-")
	require.NoError(t, err)
	assert.Equal(t, 3, max, "deleted record's sequence must stay issued")

	err = m.SaveDelivery(ctx, ledger.Delivery{
		ID: "del-2", OrderID: "ord-1", Code: "DEL-000003",
		Status: ledger.StatusPending, CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ledger.ErrCodeTaken)
}

func TestDuplicatePairRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	line := seed(t, m)

	require.NoError(t, m.SaveDelivery(ctx, ledger.Delivery{
		ID: "del-1", OrderID: "ord-1", Code: "DEL-000001",
		Status: ledger.StatusPending, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, m.SaveDeliveryLine(ctx, ledger.DeliveryLine{
		ID: "dl-1", DeliveryID: "del-1", OrderLineID: line.ID, Quantity: 5,
	}))
	err := m.SaveDeliveryLine(ctx, ledger.DeliveryLine{
		ID: "dl-2", DeliveryID: "del-1", OrderLineID: line.ID, Quantity: 7,
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateOrderLine)
}
