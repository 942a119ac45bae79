package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, slip ImportSlip) error
	Get(ctx context.Context, id string) (ImportSlip, error)
	List(ctx context.Context, req ListSlipsRequest) ([]ImportSlip, int, error)
	Replace(ctx context.Context, slip ImportSlip) error
	SetStatus(ctx context.Context, id, status string) error
}

// Repository persists import slips in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, slip ImportSlip) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO import_slips (id, supplier_id, transaction_id, status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			slip.ID, slip.SupplierID, slip.TransactionID, slip.Status, slip.Note, slip.CreatedBy, slip.CreatedAt)
		if err != nil {
			return fmt.Errorf("receiving: insert slip: %w", err)
		}
		return insertLines(ctx, tx, slip.ID, slip.Lines)
	})
}

func insertLines(ctx context.Context, tx pgx.Tx, slipID string, lines []SlipLine) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO import_slip_lines (slip_id, item_code, qty, unit_price)
VALUES ($1, $2, $3, $4)`, slipID, line.ItemCode, line.Qty, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("receiving: insert slip line: %w", err)
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (ImportSlip, error) {
	var slip ImportSlip
	err := r.pool.QueryRow(ctx, `SELECT id, supplier_id, transaction_id, status, note, created_by, created_at, updated_at
FROM import_slips WHERE id=$1`, id).
		Scan(&slip.ID, &slip.SupplierID, &slip.TransactionID, &slip.Status, &slip.Note, &slip.CreatedBy, &slip.CreatedAt, &slip.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ImportSlip{}, ErrNotFound
		}
		return ImportSlip{}, fmt.Errorf("receiving: get slip: %w", err)
	}
	slip.Lines, err = r.lines(ctx, id)
	return slip, err
}

func (r *Repository) lines(ctx context.Context, slipID string) ([]SlipLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_code, qty, unit_price FROM import_slip_lines WHERE slip_id=$1 ORDER BY item_code`, slipID)
	if err != nil {
		return nil, fmt.Errorf("receiving: slip lines: %w", err)
	}
	defer rows.Close()
	var out []SlipLine
	for rows.Next() {
		var l SlipLine
		if err := rows.Scan(&l.ItemCode, &l.Qty, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("receiving: scan slip line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) List(ctx context.Context, req ListSlipsRequest) ([]ImportSlip, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	from, to := dateRange(req.From, req.To)

	where := `WHERE ($1::text IS NULL OR status = $1)
AND ($2::timestamptz IS NULL OR created_at >= $2)
AND ($3::timestamptz IS NULL OR created_at < $3)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_slips `+where, req.Status, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("receiving: count slips: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, supplier_id, transaction_id, status, note, created_by, created_at, updated_at
FROM import_slips `+where+` ORDER BY created_at DESC LIMIT $4 OFFSET $5`, req.Status, from, to, limit, req.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("receiving: list slips: %w", err)
	}
	defer rows.Close()

	var out []ImportSlip
	for rows.Next() {
		var slip ImportSlip
		if err := rows.Scan(&slip.ID, &slip.SupplierID, &slip.TransactionID, &slip.Status, &slip.Note, &slip.CreatedBy, &slip.CreatedAt, &slip.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("receiving: scan slip: %w", err)
		}
		out = append(out, slip)
	}
	return out, total, rows.Err()
}

// Replace swaps a slip's header fields and full line set in one
// transaction, used after an edit has been re-applied through the ledger.
func (r *Repository) Replace(ctx context.Context, slip ImportSlip) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE import_slips SET supplier_id=$2, transaction_id=$3, note=$4, updated_at=NOW() WHERE id=$1`,
			slip.ID, slip.SupplierID, slip.TransactionID, slip.Note)
		if err != nil {
			return fmt.Errorf("receiving: update slip: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM import_slip_lines WHERE slip_id=$1`, slip.ID); err != nil {
			return fmt.Errorf("receiving: clear slip lines: %w", err)
		}
		return insertLines(ctx, tx, slip.ID, slip.Lines)
	})
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE import_slips SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("receiving: set slip status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func dateRange(from, to *string) (*time.Time, *time.Time) {
	parse := func(s *string) *time.Time {
		if s == nil {
			return nil
		}
		t, err := time.Parse("2006-01-02", *s)
		if err != nil {
			return nil
		}
		return &t
	}
	var end *time.Time
	if t := parse(to); t != nil {
		next := t.AddDate(0, 0, 1)
		end = &next
	}
	return parse(from), end
}
