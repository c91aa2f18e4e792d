/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using database/sql over
  SQLite. The same patterns apply to PostgreSQL - only dialect details
  differ.

INVARIANT ENFORCEMENT IN SCHEMA:
  - order_lines CHECK keeps remaining inside [0, requested] even if a
    code bug slips past the ledger's own validation.
  - delivery_lines UNIQUE(delivery_id, order_line_id) enforces at most
    one line per pair.
  - delivery_lines -> deliveries cascades on delete; -> order_lines
    restricts, so a referenced order line cannot be deleted.
  - issued_codes keeps every code ever handed out, including codes of
    deleted records, so sequences are never reused.
  - audit_entries has INSERT-only access in this package: no UPDATE or
    DELETE statement exists for it.

THE GUARD:
  SetRemaining demands a ledger.Authorization token and refuses a zero
  token before touching the database. Combined with the ledger package
  owning the only token constructor, this replaces the original system's
  trigger-plus-session-flag mechanism with a module boundary.

CONCURRENCY:
  A store-level RWMutex serializes units of work, and SQLite runs in WAL
  mode (readers don't block, single writer). Two concurrent Applies to
  the same order line therefore serialize; the loser revalidates against
  the committed remaining quantity and fails cleanly instead of losing
  an update.

USAGE:
  st, err := sqlite.New("./data/fulfillment.db") // or ":memory:"
  defer st.Close()

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-ledger/codes"
	"github.com/warp/fulfillment-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to ":memory:" would get its own empty
	// database, so concurrent readers could land on one the schema never
	// reached. Pin the pool to a single connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		reference TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		product TEXT,
		quantity_requested INTEGER NOT NULL CHECK (quantity_requested > 0),
		quantity_remaining INTEGER NOT NULL
			CHECK (quantity_remaining >= 0 AND quantity_remaining <= quantity_requested),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_lines_order
		ON order_lines(order_id);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		code TEXT NOT NULL UNIQUE,
		delivery_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_order
		ON deliveries(order_id);

	CREATE TABLE IF NOT EXISTS delivery_lines (
		id TEXT PRIMARY KEY,
		delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
		order_line_id TEXT NOT NULL REFERENCES order_lines(id) ON DELETE RESTRICT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		UNIQUE(delivery_id, order_line_id)
	);

	-- Hot path: summing delivered quantity per order line (repair).
	CREATE INDEX IF NOT EXISTS idx_delivery_lines_order_line
		ON delivery_lines(order_line_id);

	-- Append-only quantity change log. This package has no UPDATE or
	-- DELETE statement for this table.
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		order_line_id TEXT NOT NULL,
		delivery_line_id TEXT,
		quantity_before INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_line
		ON audit_entries(order_line_id, recorded_at DESC);

	-- Every code ever issued, surviving record deletion, so sequence
	-- numbers are never reused.
	CREATE TABLE IF NOT EXISTS issued_codes (
		code TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issued_codes_prefix
		ON issued_codes(prefix, seq DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ORDERS
// =============================================================================

func (s *Store) SaveOrder(ctx context.Context, o ledger.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveOrder(ctx, s.db, o)
}

func saveOrder(ctx context.Context, q dbtx, o ledger.Order) error {
	// Upsert on ID: an order may be re-saved under the code it already
	// holds (e.g. flipping Active), but never under someone else's.
	var existingCode string
	err := q.QueryRowContext(ctx, `SELECT code FROM orders WHERE id = ?`, o.ID).Scan(&existingCode)
	switch {
	case err == sql.ErrNoRows:
		if err := recordCode(ctx, q, o.Code); err != nil {
			return err
		}
	case err != nil:
		return err
	case existingCode != o.Code:
		return ledger.ErrCodeTaken
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO orders (id, code, reference, active, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET reference = excluded.reference, active = excluded.active`,
		o.ID, o.Code, o.Reference, o.Active, o.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err, "orders.code") {
		return ledger.ErrCodeTaken
	}
	return err
}

func (s *Store) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, id)
}

func getOrder(ctx context.Context, q dbtx, id ledger.OrderID) (*ledger.Order, error) {
	var (
		o         ledger.Order
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, code, reference, active, created_at FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.Code, &o.Reference, &o.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &o, nil
}

func (s *Store) OrderIDs(ctx context.Context) ([]ledger.OrderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return orderIDs(ctx, s.db)
}

func orderIDs(ctx context.Context, q dbtx) ([]ledger.OrderID, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM orders WHERE active ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ledger.OrderID
	for rows.Next() {
		var id ledger.OrderID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) SaveOrderLine(ctx context.Context, l ledger.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveOrderLine(ctx, s.db, l)
}

func saveOrderLine(ctx context.Context, q dbtx, l ledger.OrderLine) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO order_lines (id, order_id, product, quantity_requested, quantity_remaining, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrderID, l.Product, l.Requested, l.Remaining, l.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetOrderLine(ctx context.Context, id ledger.OrderLineID) (*ledger.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrderLine(ctx, s.db, id)
}

func getOrderLine(ctx context.Context, q dbtx, id ledger.OrderLineID) (*ledger.OrderLine, error) {
	var (
		l         ledger.OrderLine
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, order_id, product, quantity_requested, quantity_remaining, created_at
		 FROM order_lines WHERE id = ?`, id,
	).Scan(&l.ID, &l.OrderID, &l.Product, &l.Requested, &l.Remaining, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

func (s *Store) OrderLines(ctx context.Context, id ledger.OrderID) ([]ledger.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return orderLines(ctx, s.db, id)
}

func orderLines(ctx context.Context, q dbtx, id ledger.OrderID) ([]ledger.OrderLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product, quantity_requested, quantity_remaining, created_at
		 FROM order_lines WHERE order_id = ? ORDER BY created_at ASC, id ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ledger.OrderLine
	for rows.Next() {
		var (
			l         ledger.OrderLine
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Product, &l.Requested, &l.Remaining, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) SetRemaining(ctx context.Context, id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setRemaining(ctx, s.db, id, remaining, auth)
}

func setRemaining(ctx context.Context, q dbtx, id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	if !auth.Granted() {
		return fmt.Errorf("%w: order line %s", ledger.ErrDirectMutationForbidden, id)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE order_lines SET quantity_remaining = ? WHERE id = ?`, remaining, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrOrderLineNotFound, id)
	}
	return nil
}

// =============================================================================
// DELIVERIES
// =============================================================================

func (s *Store) SaveDelivery(ctx context.Context, d ledger.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDelivery(ctx, s.db, d)
}

func saveDelivery(ctx context.Context, q dbtx, d ledger.Delivery) error {
	if err := recordCode(ctx, q, d.Code); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO deliveries (id, order_id, code, delivery_date, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrderID, d.Code, d.Date.Format("2006-01-02"), d.Status, d.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err, "deliveries.code") {
		return ledger.ErrCodeTaken
	}
	return err
}

func (s *Store) GetDelivery(ctx context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDelivery(ctx, s.db, id)
}

func getDelivery(ctx context.Context, q dbtx, id ledger.DeliveryID) (*ledger.Delivery, error) {
	var (
		d            ledger.Delivery
		deliveryDate string
		createdAt    string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, order_id, code, delivery_date, status, created_at FROM deliveries WHERE id = ?`, id,
	).Scan(&d.ID, &d.OrderID, &d.Code, &deliveryDate, &d.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Date, _ = time.Parse("2006-01-02", deliveryDate)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	rows, err := q.QueryContext(ctx,
		`SELECT id, delivery_id, order_line_id, quantity, unit_price
		 FROM delivery_lines WHERE delivery_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l     ledger.DeliveryLine
			price string
		)
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.OrderLineID, &l.Quantity, &price); err != nil {
			return nil, err
		}
		l.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse unit price %q: %w", price, err)
		}
		d.Lines = append(d.Lines, l)
	}
	return &d, rows.Err()
}

func (s *Store) SetDeliveryStatus(ctx context.Context, id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setDeliveryStatus(ctx, s.db, id, status)
}

func setDeliveryStatus(ctx context.Context, q dbtx, id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	res, err := q.ExecContext(ctx, `UPDATE deliveries SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrDeliveryNotFound, id)
	}
	return nil
}

func (s *Store) SaveDeliveryLine(ctx context.Context, l ledger.DeliveryLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDeliveryLine(ctx, s.db, l)
}

func saveDeliveryLine(ctx context.Context, q dbtx, l ledger.DeliveryLine) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO delivery_lines (id, delivery_id, order_line_id, quantity, unit_price)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.DeliveryID, l.OrderLineID, l.Quantity, l.UnitPrice.String(),
	)
	if isUniqueViolation(err, "delivery_lines.delivery_id") {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateOrderLine, l.OrderLineID)
	}
	return err
}

func (s *Store) UpdateDeliveryLine(ctx context.Context, l ledger.DeliveryLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDeliveryLine(ctx, s.db, l)
}

func updateDeliveryLine(ctx context.Context, q dbtx, l ledger.DeliveryLine) error {
	res, err := q.ExecContext(ctx,
		`UPDATE delivery_lines SET quantity = ?, unit_price = ? WHERE id = ?`,
		l.Quantity, l.UnitPrice.String(), l.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: delivery line %s", ledger.ErrDeliveryNotFound, l.ID)
	}
	return nil
}

func (s *Store) DeleteDeliveryLine(ctx context.Context, id ledger.DeliveryLineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDeliveryLine(ctx, s.db, id)
}

func deleteDeliveryLine(ctx context.Context, q dbtx, id ledger.DeliveryLineID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM delivery_lines WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteDelivery(ctx context.Context, id ledger.DeliveryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDelivery(ctx, s.db, id)
}

func deleteDelivery(ctx context.Context, q dbtx, id ledger.DeliveryID) error {
	// delivery_lines cascade via the foreign key.
	res, err := q.ExecContext(ctx, `DELETE FROM deliveries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrDeliveryNotFound, id)
	}
	return nil
}

func (s *Store) DeliveredTotal(ctx context.Context, id ledger.OrderLineID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deliveredTotal(ctx, s.db, id)
}

func deliveredTotal(ctx context.Context, q dbtx, id ledger.OrderLineID) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM delivery_lines WHERE order_line_id = ?`, id,
	).Scan(&total)
	return total, err
}

// =============================================================================
// SEQUENTIAL CODES
// =============================================================================

func (s *Store) MaxSequence(ctx context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxSequence(ctx, s.db, prefix)
}

func maxSequence(ctx context.Context, q dbtx, prefix string) (int, error) {
	var max int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM issued_codes WHERE prefix = ?`, prefix,
	).Scan(&max)
	return max, err
}

// recordCode registers a code in the issued-codes history. The PRIMARY
// KEY on code is the allocator's race arbiter.
func recordCode(ctx context.Context, q dbtx, code string) error {
	prefix, seq, ok := codes.Split(code)
	if !ok {
		return fmt.Errorf("malformed code %q", code)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO issued_codes (code, prefix, seq) VALUES (?, ?, ?)`,
		code, prefix, seq,
	)
	if isUniqueViolation(err, "issued_codes.code") {
		return ledger.ErrCodeTaken
	}
	return err
}

// =============================================================================
// AUDIT TRAIL (append-only)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

func appendAudit(ctx context.Context, q dbtx, e ledger.AuditEntry) error {
	var deliveryLineID sql.NullString
	if e.DeliveryLineID != nil {
		deliveryLineID = sql.NullString{String: string(*e.DeliveryLineID), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, kind, order_line_id, delivery_line_id, quantity_before, quantity_after, delta, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.OrderLineID, deliveryLineID, e.Before, e.After, e.Delta,
		e.RecordedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) AuditEntries(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditEntries(ctx, s.db, f)
}

func auditEntries(ctx context.Context, q dbtx, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, kind, order_line_id, delivery_line_id, quantity_before, quantity_after, delta, recorded_at
		FROM audit_entries`
	args := []any{}
	if f.OrderLineID != nil {
		query += ` WHERE order_line_id = ?`
		args = append(args, *f.OrderLineID)
	}
	query += ` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e              ledger.AuditEntry
			deliveryLineID sql.NullString
			recordedAt     string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.OrderLineID, &deliveryLineID,
			&e.Before, &e.After, &e.Delta, &recordedAt); err != nil {
			return nil, err
		}
		if deliveryLineID.Valid {
			id := ledger.DeliveryLineID(deliveryLineID.String)
			e.DeliveryLineID = &id
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction. The store lock is
// held for the duration, so units of work serialize; a failure anywhere
// rolls back every write fn made.
//
// The lock is store-global: transactions touching unrelated order lines
// also serialize. SQLite permits a single writer regardless, so per-line
// locking would add bookkeeping without concurrency; an implementation
// over an engine with row-level locks could narrow the scope without
// touching domain code.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore routes every Store call through the open transaction. The
// WithTx caller already holds the store lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveOrder(ctx context.Context, o ledger.Order) error {
	return saveOrder(ctx, ts.tx, o)
}

func (ts *txStore) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return getOrder(ctx, ts.tx, id)
}

func (ts *txStore) OrderIDs(ctx context.Context) ([]ledger.OrderID, error) {
	return orderIDs(ctx, ts.tx)
}

func (ts *txStore) SaveOrderLine(ctx context.Context, l ledger.OrderLine) error {
	return saveOrderLine(ctx, ts.tx, l)
}

func (ts *txStore) GetOrderLine(ctx context.Context, id ledger.OrderLineID) (*ledger.OrderLine, error) {
	return getOrderLine(ctx, ts.tx, id)
}

func (ts *txStore) OrderLines(ctx context.Context, id ledger.OrderID) ([]ledger.OrderLine, error) {
	return orderLines(ctx, ts.tx, id)
}

func (ts *txStore) SetRemaining(ctx context.Context, id ledger.OrderLineID, remaining int64, auth ledger.Authorization) error {
	return setRemaining(ctx, ts.tx, id, remaining, auth)
}

func (ts *txStore) SaveDelivery(ctx context.Context, d ledger.Delivery) error {
	return saveDelivery(ctx, ts.tx, d)
}

func (ts *txStore) GetDelivery(ctx context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	return getDelivery(ctx, ts.tx, id)
}

func (ts *txStore) SetDeliveryStatus(ctx context.Context, id ledger.DeliveryID, status ledger.DeliveryStatus) error {
	return setDeliveryStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) SaveDeliveryLine(ctx context.Context, l ledger.DeliveryLine) error {
	return saveDeliveryLine(ctx, ts.tx, l)
}

func (ts *txStore) UpdateDeliveryLine(ctx context.Context, l ledger.DeliveryLine) error {
	return updateDeliveryLine(ctx, ts.tx, l)
}

func (ts *txStore) DeleteDeliveryLine(ctx context.Context, id ledger.DeliveryLineID) error {
	return deleteDeliveryLine(ctx, ts.tx, id)
}

func (ts *txStore) DeleteDelivery(ctx context.Context, id ledger.DeliveryID) error {
	return deleteDelivery(ctx, ts.tx, id)
}

func (ts *txStore) DeliveredTotal(ctx context.Context, id ledger.OrderLineID) (int64, error) {
	return deliveredTotal(ctx, ts.tx, id)
}

func (ts *txStore) MaxSequence(ctx context.Context, prefix string) (int, error) {
	return maxSequence(ctx, ts.tx, prefix)
}

func (ts *txStore) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	return appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) AuditEntries(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return auditEntries(ctx, ts.tx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error, needle string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, needle)
}
