package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepository exposes the store operations the ledger performs inside an
// atomic unit. Implementations running outside a transaction execute each
// call in autocommit mode; the ledger then takes care of compensation.
type TxRepository interface {
	// SnapshotForUpdate reads the given items in sorted order, locking
	// them for the remainder of the unit where the store supports locks.
	SnapshotForUpdate(ctx context.Context, codes []string) (Snapshot, error)
	// AdjustStock applies a signed delta guarded against negative stock.
	// It returns the before/after quantities.
	AdjustStock(ctx context.Context, code string, delta int64) (int64, int64, error)
	// SetStock overwrites the quantity absolutely (inventory counts).
	SetStock(ctx context.Context, code string, qty int64) (int64, int64, error)
	InsertTransaction(ctx context.Context, tx Transaction) error
	MarkReversed(ctx context.Context, txID string) error
	InsertCount(ctx context.Context, count InventoryCount) error
}

// RepositoryPort is the full store surface the ledger service needs. The
// embedded TxRepository runs in autocommit mode and only backs the
// compensating path of stores without multi-row atomicity.
type RepositoryPort interface {
	TxRepository
	// WithAtomicUnit runs fn so that either all its writes land or none
	// do. Stores without that guarantee return ErrAtomicityUnsupported
	// without invoking fn.
	WithAtomicUnit(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetStock(ctx context.Context, code string) (StockItem, error)
	InsertDiscrepancy(ctx context.Context, d Discrepancy) error
}

// Discrepancy is a persisted record of stock left in a state that needs
// manual reconciliation: a failed rollback, or an integrity-scan mismatch.
type Discrepancy struct {
	ID            int64
	TransactionID string
	ItemCode      string
	ExpectedQty   int64
	ActualQty     int64
	Source        string
	Detail        string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Discrepancy sources.
const (
	DiscrepancySourceRollback  = "ROLLBACK_FAILED"
	DiscrepancySourceIntegrity = "INTEGRITY_SCAN"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds how long a unit
// may wait on another transaction's row locks.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithAtomicUnit executes the callback inside one read-committed
// transaction with a statement lock_timeout, so a stuck peer surfaces as
// an error instead of an unbounded wait. Read committed matters: a
// blocked FOR UPDATE re-reads the row version the lock holder committed,
// so a lost race comes back as InsufficientStock from the quantity guard
// rather than a serialization failure.
func (r *Repository) WithAtomicUnit(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	// Detach the rollback from the caller's context so cancellation
	// mid-apply still tears the unit down instead of leaving it open.
	defer func() {
		rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tx.Rollback(rbCtx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return &StorageError{Op: "lock_timeout", Err: err}
	}

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (r *txRepository) SnapshotForUpdate(ctx context.Context, codes []string) (Snapshot, error) {
	return snapshotQuery(ctx, r.tx, codes, true)
}

func (r *txRepository) AdjustStock(ctx context.Context, code string, delta int64) (int64, int64, error) {
	return adjustStock(ctx, r.tx, code, delta)
}

func (r *txRepository) SetStock(ctx context.Context, code string, qty int64) (int64, int64, error) {
	return setStock(ctx, r.tx, code, qty)
}

func (r *txRepository) InsertTransaction(ctx context.Context, tx Transaction) error {
	return insertTransaction(ctx, r.tx, tx)
}

func (r *txRepository) MarkReversed(ctx context.Context, txID string) error {
	return markReversed(ctx, r.tx, txID)
}

func (r *txRepository) InsertCount(ctx context.Context, count InventoryCount) error {
	return insertCount(ctx, r.tx, count)
}

// Autocommit variants back the compensating path; each statement is its
// own transaction on the pool.

func (r *Repository) SnapshotForUpdate(ctx context.Context, codes []string) (Snapshot, error) {
	return snapshotQuery(ctx, r.pool, codes, false)
}

func (r *Repository) AdjustStock(ctx context.Context, code string, delta int64) (int64, int64, error) {
	return adjustStock(ctx, r.pool, code, delta)
}

func (r *Repository) SetStock(ctx context.Context, code string, qty int64) (int64, int64, error) {
	return setStock(ctx, r.pool, code, qty)
}

func (r *Repository) InsertTransaction(ctx context.Context, tx Transaction) error {
	return insertTransaction(ctx, r.pool, tx)
}

func (r *Repository) MarkReversed(ctx context.Context, txID string) error {
	return markReversed(ctx, r.pool, txID)
}

func (r *Repository) InsertCount(ctx context.Context, count InventoryCount) error {
	return insertCount(ctx, r.pool, count)
}

// GetStock reads one stock row.
func (r *Repository) GetStock(ctx context.Context, code string) (StockItem, error) {
	var item StockItem
	err := r.pool.QueryRow(ctx, `SELECT item_code, qty_on_hand, updated_at FROM stock_items WHERE item_code=$1`, code).
		Scan(&item.ItemCode, &item.QtyOnHand, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, &ValidationError{Rejections: []LineRejection{{ItemCode: code, Reason: ReasonItemNotFound}}}
		}
		return StockItem{}, &StorageError{Op: "get stock", Err: err}
	}
	return item, nil
}

// GetTransaction loads a transaction header with its lines.
func (r *Repository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	err := r.pool.QueryRow(ctx, `SELECT id, direction, ref_module, COALESCE(ref_id, ''), created_by, created_at, reversed
FROM stock_transactions WHERE id=$1`, id).
		Scan(&tx.ID, &tx.Direction, &tx.RefModule, &tx.RefID, &tx.CreatedBy, &tx.CreatedAt, &tx.Reversed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, &StorageError{Op: "get transaction", Err: err}
	}
	rows, err := r.pool.Query(ctx, `SELECT item_code, qty, unit_price FROM stock_transaction_lines WHERE transaction_id=$1 ORDER BY id`, id)
	if err != nil {
		return Transaction{}, &StorageError{Op: "get transaction lines", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var line TransactionLine
		if err := rows.Scan(&line.ItemCode, &line.Qty, &line.UnitPrice); err != nil {
			return Transaction{}, &StorageError{Op: "scan transaction line", Err: err}
		}
		tx.Lines = append(tx.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, &StorageError{Op: "iterate transaction lines", Err: err}
	}
	return tx, nil
}

// InsertDiscrepancy records stock needing manual reconciliation. It runs
// outside any atomic unit so the record survives the failed operation.
func (r *Repository) InsertDiscrepancy(ctx context.Context, d Discrepancy) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_discrepancies (transaction_id, item_code, expected_qty, actual_qty, source, detail, created_at)
VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, NOW())`,
		d.TransactionID, d.ItemCode, d.ExpectedQty, d.ActualQty, d.Source, d.Detail)
	if err != nil {
		return &StorageError{Op: "insert discrepancy", Err: err}
	}
	return nil
}

func snapshotQuery(ctx context.Context, q dbtx, codes []string, forUpdate bool) (Snapshot, error) {
	if len(codes) == 0 {
		return Snapshot{}, nil
	}
	query := `SELECT s.item_code, s.qty_on_hand, p.is_active
FROM stock_items s
JOIN products p ON p.code = s.item_code
WHERE s.item_code = ANY($1)
ORDER BY s.item_code`
	if forUpdate {
		query += " FOR UPDATE OF s"
	}
	rows, err := q.Query(ctx, query, codes)
	if err != nil {
		return nil, &StorageError{Op: "snapshot", Err: err}
	}
	defer rows.Close()
	snap := make(Snapshot, len(codes))
	for rows.Next() {
		var code string
		var entry SnapshotEntry
		if err := rows.Scan(&code, &entry.QtyOnHand, &entry.Active); err != nil {
			return nil, &StorageError{Op: "scan snapshot", Err: err}
		}
		snap[code] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate snapshot", Err: err}
	}
	return snap, nil
}

func adjustStock(ctx context.Context, q dbtx, code string, delta int64) (int64, int64, error) {
	var after int64
	err := q.QueryRow(ctx, `UPDATE stock_items
SET qty_on_hand = qty_on_hand + $2, updated_at = NOW()
WHERE item_code = $1 AND qty_on_hand + $2 >= 0
RETURNING qty_on_hand`, code, delta).Scan(&after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row missing or the non-negative guard refused the delta.
			return 0, 0, ErrStockConflict
		}
		return 0, 0, &StorageError{Op: "adjust stock", Err: err}
	}
	return after - delta, after, nil
}

func setStock(ctx context.Context, q dbtx, code string, qty int64) (int64, int64, error) {
	var before, after int64
	err := q.QueryRow(ctx, `UPDATE stock_items s
SET qty_on_hand = $2, updated_at = NOW()
FROM (SELECT item_code, qty_on_hand AS prev FROM stock_items WHERE item_code = $1 FOR UPDATE) old
WHERE s.item_code = old.item_code
RETURNING old.prev, s.qty_on_hand`, code, qty).Scan(&before, &after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrStockConflict
		}
		return 0, 0, &StorageError{Op: "set stock", Err: err}
	}
	return before, after, nil
}

func insertTransaction(ctx context.Context, q dbtx, tx Transaction) error {
	_, err := q.Exec(ctx, `INSERT INTO stock_transactions (id, direction, ref_module, ref_id, created_by, created_at, reversed)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, FALSE)`,
		tx.ID, string(tx.Direction), tx.RefModule, tx.RefID, tx.CreatedBy, tx.CreatedAt)
	if err != nil {
		return &StorageError{Op: "insert transaction", Err: err}
	}
	for _, line := range tx.Lines {
		_, err := q.Exec(ctx, `INSERT INTO stock_transaction_lines (transaction_id, item_code, qty, unit_price)
VALUES ($1, $2, $3, $4)`, tx.ID, line.ItemCode, line.Qty, line.UnitPrice)
		if err != nil {
			return &StorageError{Op: "insert transaction line", Err: err}
		}
	}
	return nil
}

func markReversed(ctx context.Context, q dbtx, txID string) error {
	tag, err := q.Exec(ctx, `UPDATE stock_transactions SET reversed = TRUE, reversed_at = NOW() WHERE id=$1 AND NOT reversed`, txID)
	if err != nil {
		return &StorageError{Op: "mark reversed", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func insertCount(ctx context.Context, q dbtx, count InventoryCount) error {
	_, err := q.Exec(ctx, `INSERT INTO stock_counts (id, created_by, created_at) VALUES ($1, $2, $3)`,
		count.ID, count.CreatedBy, count.CreatedAt)
	if err != nil {
		return &StorageError{Op: "insert count", Err: err}
	}
	for _, line := range count.Lines {
		_, err := q.Exec(ctx, `INSERT INTO stock_count_lines (count_id, item_code, book_qty, counted_qty, delta, note)
VALUES ($1, $2, $3, $4, $5, $6)`, count.ID, line.ItemCode, line.BookQty, line.CountedQty, line.Delta(), line.Note)
		if err != nil {
			return &StorageError{Op: "insert count line", Err: err}
		}
	}
	return nil
}
