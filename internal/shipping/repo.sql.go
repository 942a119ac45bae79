package shipping

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
	Create(ctx context.Context, slip ExportSlip) error
	Get(ctx context.Context, id string) (ExportSlip, error)
	List(ctx context.Context, req ListSlipsRequest) ([]ExportSlip, int, error)
	Replace(ctx context.Context, slip ExportSlip) error
	SetStatus(ctx context.Context, id, status string) error
}

// Repository persists export slips in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, slip ExportSlip) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO export_slips (id, customer_id, invoice_no, transaction_id, status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			slip.ID, slip.CustomerID, slip.InvoiceNo, slip.TransactionID, slip.Status, slip.Note, slip.CreatedBy, slip.CreatedAt)
		if err != nil {
			return fmt.Errorf("shipping: insert slip: %w", err)
		}
		return insertLines(ctx, tx, slip.ID, slip.Lines)
	})
}

func insertLines(ctx context.Context, tx pgx.Tx, slipID string, lines []SlipLine) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO export_slip_lines (slip_id, item_code, qty, unit_price)
VALUES ($1, $2, $3, $4)`, slipID, line.ItemCode, line.Qty, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("shipping: insert slip line: %w", err)
		}
	}
	return nil
}

const slipColumns = `id, customer_id, invoice_no, transaction_id, status, note, created_by, created_at, updated_at`

func scanSlip(row pgx.Row) (ExportSlip, error) {
	var slip ExportSlip
	err := row.Scan(&slip.ID, &slip.CustomerID, &slip.InvoiceNo, &slip.TransactionID, &slip.Status, &slip.Note, &slip.CreatedBy, &slip.CreatedAt, &slip.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExportSlip{}, ErrNotFound
		}
		return ExportSlip{}, fmt.Errorf("shipping: scan slip: %w", err)
	}
	return slip, nil
}

func (r *Repository) Get(ctx context.Context, id string) (ExportSlip, error) {
	slip, err := scanSlip(r.pool.QueryRow(ctx, `SELECT `+slipColumns+` FROM export_slips WHERE id=$1`, id))
	if err != nil {
		return ExportSlip{}, err
	}
	slip.Lines, err = r.lines(ctx, id)
	return slip, err
}

func (r *Repository) lines(ctx context.Context, slipID string) ([]SlipLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_code, qty, unit_price FROM export_slip_lines WHERE slip_id=$1 ORDER BY item_code`, slipID)
	if err != nil {
		return nil, fmt.Errorf("shipping: slip lines: %w", err)
	}
	defer rows.Close()
	var out []SlipLine
	for rows.Next() {
		var l SlipLine
		if err := rows.Scan(&l.ItemCode, &l.Qty, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("shipping: scan slip line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) List(ctx context.Context, req ListSlipsRequest) ([]ExportSlip, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	from, to := dateRange(req.From, req.To)

	where := `WHERE ($1::text IS NULL OR status = $1)
AND ($2::text IS NULL OR invoice_no = $2)
AND ($3::timestamptz IS NULL OR created_at >= $3)
AND ($4::timestamptz IS NULL OR created_at < $4)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM export_slips `+where, req.Status, req.InvoiceNo, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("shipping: count slips: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+slipColumns+` FROM export_slips `+where+`
ORDER BY created_at DESC LIMIT $5 OFFSET $6`, req.Status, req.InvoiceNo, from, to, limit, req.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("shipping: list slips: %w", err)
	}
	defer rows.Close()

	var out []ExportSlip
	for rows.Next() {
		slip, err := scanSlip(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, slip)
	}
	return out, total, rows.Err()
}

func (r *Repository) Replace(ctx context.Context, slip ExportSlip) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE export_slips SET customer_id=$2, invoice_no=$3, transaction_id=$4, note=$5, updated_at=NOW() WHERE id=$1`,
			slip.ID, slip.CustomerID, slip.InvoiceNo, slip.TransactionID, slip.Note)
		if err != nil {
			return fmt.Errorf("shipping: update slip: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM export_slip_lines WHERE slip_id=$1`, slip.ID); err != nil {
			return fmt.Errorf("shipping: clear slip lines: %w", err)
		}
		return insertLines(ctx, tx, slip.ID, slip.Lines)
	})
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE export_slips SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("shipping: set slip status: %w", err)
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
