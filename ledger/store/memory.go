// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/warp/fulfillment-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements ledger.TxStore. WithTx snapshots state and restores
// it on failure; the store mutex serializes units of work, which gives
// the same observable guarantees as row-level locking for this store.
type Memory struct {
	mu            sync.RWMutex
	orders        map[ledger.OrderID]ledger.Order
	orderLines    map[ledger.OrderLineID]ledger.OrderLine
	deliveries    map[ledger.DeliveryID]ledger.Delivery // lines held separately
	deliveryLines map[ledger.DeliveryLineID]ledger.DeliveryLine
	audit         []ledger.AuditEntry

	// Every code ever issued, kept across deletes so sequence numbers of
	// retired records are never reused.
	codes map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		orders:        make(map[ledger.OrderID]ledger.Order),
		orderLines:    make(map[ledger.OrderLineID]ledger.OrderLine),
		deliveries:    make(map[ledger.DeliveryID]ledger.Delivery),
		deliveryLines: make(map[ledger.DeliveryLineID]ledger.DeliveryLine),
		codes:         make(map[string]bool),
	}
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

func (m *Memory) SaveOrder(_ context.Context, o ledger.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveOrderLocked(o)
}

func (m *Memory) saveOrderLocked(o ledger.Order) error {
	// Upsert on ID: an order may be re-saved under the code it already
	// holds (e.g. flipping Active), but never under someone else's.
	if existing, ok := m.orders[o.ID]; ok && existing.Code == o.Code {
		m.orders[o.ID] = o
		return nil
	}
	if m.codes[o.Code] {
		return ledger.ErrCodeTaken
	}
	m.codes[o.Code] = true
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id ledger.OrderID) (*ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrderLocked(id)
}

func (m *Memory) getOrderLocked(id ledger.OrderID) (*ledger.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *Memory) OrderIDs(_ context.Context) ([]ledger.OrderID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderIDsLocked()
}

func (m *Memory) orderIDsLocked() ([]ledger.OrderID, error) {
	var ids []ledger.OrderID
	for id, o := range m.orders {
		if o.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) SaveOrderLine(_ context.Context, l ledger.OrderLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderLines[l.ID] = l
	return nil
}

func (m *Memory) GetOrderLine(_ context.Context, id ledger.OrderLineID) (*ledger.OrderLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrderLineLocked(id)
}

func (m *Memory) getOrderLineLocked(id ledger.OrderLineID) (*ledger.OrderLine, error) {
	l, ok := m.orderLines[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) OrderLines(_ context.Context, id ledger.OrderID) ([]ledger.OrderLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderLinesLocked(id)
}

func (m *Memory) orderLinesLocked(id ledger.OrderID) ([]ledger.OrderLine, error) {
	var lines []ledger.OrderLine
	for _, l := range m.orderLines {
		if l.OrderID == id {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (m *Memory) SetRemaining(_ context.Context, id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRemainingLocked(id, remaining, auth)
}

func (m *Memory) setRemainingLocked(id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	if !auth.Granted() {
		return ledger.ErrDirectMutationForbidden
	}
	l, ok := m.orderLines[id]
	if !ok {
		return ledger.ErrOrderLineNotFound
	}
	l.Remaining = remaining
	m.orderLines[id] = l
	return nil
}

// -----------------------------------------------------------------------------
// Deliveries
// -----------------------------------------------------------------------------

func (m *Memory) SaveDelivery(_ context.Context, d ledger.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDeliveryLocked(d)
}

func (m *Memory) saveDeliveryLocked(d ledger.Delivery) error {
	if m.codes[d.Code] {
		return ledger.ErrCodeTaken
	}
	m.codes[d.Code] = true
	d.Lines = nil
	m.deliveries[d.ID] = d
	return nil
}

func (m *Memory) GetDelivery(_ context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDeliveryLocked(id)
}

func (m *Memory) getDeliveryLocked(id ledger.DeliveryID) (*ledger.Delivery, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return nil, nil
	}
	for _, l := range m.deliveryLines {
		if l.DeliveryID == id {
			d.Lines = append(d.Lines, l)
		}
	}
	sort.Slice(d.Lines, func(i, j int) bool { return d.Lines[i].ID < d.Lines[j].ID })
	return &d, nil
}

func (m *Memory) SetDeliveryStatus(_ context.Context, id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setDeliveryStatusLocked(id, status)
}

func (m *Memory) setDeliveryStatusLocked(id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	d, ok := m.deliveries[id]
	if !ok {
		return ledger.ErrDeliveryNotFound
	}
	d.Status = status
	m.deliveries[id] = d
	return nil
}

func (m *Memory) SaveDeliveryLine(_ context.Context, l ledger.DeliveryLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDeliveryLineLocked(l)
}

func (m *Memory) saveDeliveryLineLocked(l ledger.DeliveryLine) error {
	for _, existing := range m.deliveryLines {
		if existing.DeliveryID == l.DeliveryID && existing.OrderLineID == l.OrderLineID {
			return ledger.ErrDuplicateOrderLine
		}
	}
	m.deliveryLines[l.ID] = l
	return nil
}

func (m *Memory) UpdateDeliveryLine(_ context.Context, l ledger.DeliveryLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDeliveryLineLocked(l)
}

func (m *Memory) updateDeliveryLineLocked(l ledger.DeliveryLine) error {
	if _, ok := m.deliveryLines[l.ID]; !ok {
		return ledger.ErrDeliveryNotFound
	}
	m.deliveryLines[l.ID] = l
	return nil
}

func (m *Memory) DeleteDeliveryLine(_ context.Context, id ledger.DeliveryLineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDeliveryLineLocked(id)
	return nil
}

func (m *Memory) deleteDeliveryLineLocked(id ledger.DeliveryLineID) {
	delete(m.deliveryLines, id)
}

func (m *Memory) DeleteDelivery(_ context.Context, id ledger.DeliveryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDeliveryLocked(id)
}

func (m *Memory) deleteDeliveryLocked(id ledger.DeliveryID) error {
	if _, ok := m.deliveries[id]; !ok {
		return ledger.ErrDeliveryNotFound
	}
	delete(m.deliveries, id)
	for lid, l := range m.deliveryLines {
		if l.DeliveryID == id {
			delete(m.deliveryLines, lid)
		}
	}
	return nil
}

func (m *Memory) DeliveredTotal(_ context.Context, id ledger.OrderLineID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deliveredTotalLocked(id)
}

func (m *Memory) deliveredTotalLocked(id ledger.OrderLineID) (int64, error) {
	var total int64
	for _, l := range m.deliveryLines {
		if l.OrderLineID == id {
			total += l.Quantity
		}
	}
	return total, nil
}

// -----------------------------------------------------------------------------
// Sequential codes
// -----------------------------------------------------------------------------

func (m *Memory) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSequenceLocked(prefix)
}

func (m *Memory) maxSequenceLocked(prefix string) (int, error) {
	max := 0
	for code := range m.codes {
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(code, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// -----------------------------------------------------------------------------
// Audit trail (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(e)
	return nil
}

func (m *Memory) appendAuditLocked(e ledger.AuditEntry) {
	m.audit = append(m.audit, e)
}

func (m *Memory) AuditEntries(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditEntriesLocked(f)
}

func (m *Memory) auditEntriesLocked(f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var entries []ledger.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- { // newest first
		e := m.audit[i]
		if f.OrderLineID != nil && e.OrderLineID != *f.OrderLineID {
			continue
		}
		entries = append(entries, e)
		if f.Limit > 0 && len(entries) == f.Limit {
			break
		}
	}
	return entries, nil
}

// Corrupt overwrites a line's remaining quantity without authorization
// or audit. It exists only so tests can manufacture the inconsistent
// state the repair path is built to fix.
func (m *Memory) Corrupt(id ledger.OrderLineID, remaining int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.orderLines[id]; ok {
		l.Remaining = remaining
		m.orderLines[id] = l
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn under the store lock against a snapshot-backed view.
// On error the snapshot is restored, so no partial unit of work is ever
// observable.
//
// The lock is store-global, so units of work touching unrelated order
// lines also serialize. Finer-grained locking would only matter for an
// implementation whose engine supports concurrent writers; this store's
// contract promises serialization, not parallelism.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	orders        map[ledger.OrderID]ledger.Order
	orderLines    map[ledger.OrderLineID]ledger.OrderLine
	deliveries    map[ledger.DeliveryID]ledger.Delivery
	deliveryLines map[ledger.DeliveryLineID]ledger.DeliveryLine
	audit         []ledger.AuditEntry
	codes         map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		orders:        make(map[ledger.OrderID]ledger.Order, len(m.orders)),
		orderLines:    make(map[ledger.OrderLineID]ledger.OrderLine, len(m.orderLines)),
		deliveries:    make(map[ledger.DeliveryID]ledger.Delivery, len(m.deliveries)),
		deliveryLines: make(map[ledger.DeliveryLineID]ledger.DeliveryLine, len(m.deliveryLines)),
		audit:         append([]ledger.AuditEntry{}, m.audit...),
		codes:         make(map[string]bool, len(m.codes)),
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	for k, v := range m.orderLines {
		s.orderLines[k] = v
	}
	for k, v := range m.deliveries {
		s.deliveries[k] = v
	}
	for k, v := range m.deliveryLines {
		s.deliveryLines[k] = v
	}
	for k, v := range m.codes {
		s.codes[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.orders = s.orders
	m.orderLines = s.orderLines
	m.deliveries = s.deliveries
	m.deliveryLines = s.deliveryLines
	m.audit = s.audit
	m.codes = s.codes
}

// txView routes Store calls to the locked helpers; the WithTx caller
// already holds the mutex.
type txView struct {
	m *Memory
}

func (v *txView) SaveOrder(_ context.Context, o ledger.Order) error {
	return v.m.saveOrderLocked(o)
}

func (v *txView) GetOrder(_ context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return v.m.getOrderLocked(id)
}

func (v *txView) OrderIDs(_ context.Context) ([]ledger.OrderID, error) {
	return v.m.orderIDsLocked()
}

func (v *txView) SaveOrderLine(_ context.Context, l ledger.OrderLine) error {
	v.m.orderLines[l.ID] = l
	return nil
}

func (v *txView) GetOrderLine(_ context.Context, id ledger.OrderLineID) (*ledger.OrderLine, error) {
	return v.m.getOrderLineLocked(id)
}

func (v *txView) OrderLines(_ context.Context, id ledger.OrderID) ([]ledger.OrderLine, error) {
	return v.m.orderLinesLocked(id)
}

func (v *txView) SetRemaining(_ context.Context, id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	return v.m.setRemainingLocked(id, remaining, auth)
}

func (v *txView) SaveDelivery(_ context.Context, d ledger.Delivery) error {
	return v.m.saveDeliveryLocked(d)
}

func (v *txView) GetDelivery(_ context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	return v.m.getDeliveryLocked(id)
}

func (v *txView) SetDeliveryStatus(_ context.Context, id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	return v.m.setDeliveryStatusLocked(id, status)
}

func (v *txView) SaveDeliveryLine(_ context.Context, l ledger.DeliveryLine) error {
	return v.m.saveDeliveryLineLocked(l)
}

func (v *txView) UpdateDeliveryLine(_ context.Context, l ledger.DeliveryLine) error {
	return v.m.updateDeliveryLineLocked(l)
}

func (v *txView) DeleteDeliveryLine(_ context.Context, id ledger.DeliveryLineID) error {
	v.m.deleteDeliveryLineLocked(id)
	return nil
}

func (v *txView) DeleteDelivery(_ context.Context, id ledger.DeliveryID) error {
	return v.m.deleteDeliveryLocked(id)
}

func (v *txView) DeliveredTotal(_ context.Context, id ledger.OrderLineID) (int64, error) {
	return v.m.deliveredTotalLocked(id)
}

func (v *txView) MaxSequence(_ context.Context, prefix string) (int, error) {
	return v.m.maxSequenceLocked(prefix)
}

func (v *txView) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	v.m.appendAuditLocked(e)
	return nil
}

func (v *txView) AuditEntries(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return v.m.auditEntriesLocked(f)
}
