package stocktake

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, sheet CountSheet) error
	Get(ctx context.Context, id string) (CountSheet, error)
	List(ctx context.Context, req ListSheetsRequest) ([]CountSheet, int, error)
	UpdateLines(ctx context.Context, id string, lines []SheetLine) error
	Complete(ctx context.Context, id, countID string) error
	SetStatus(ctx context.Context, id, status string) error
}

// Repository persists count sheets in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, sheet CountSheet) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO count_sheets (id, status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`, sheet.ID, sheet.Status, sheet.Note, sheet.CreatedBy, sheet.CreatedAt)
		if err != nil {
			return fmt.Errorf("stocktake: insert sheet: %w", err)
		}
		return insertLines(ctx, tx, sheet.ID, sheet.Lines)
	})
}

func insertLines(ctx context.Context, tx pgx.Tx, sheetID string, lines []SheetLine) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO count_sheet_lines (sheet_id, item_code, book_qty, counted_qty, note)
VALUES ($1, $2, $3, $4, $5)`, sheetID, line.ItemCode, line.BookQty, line.CountedQty, line.Note)
		if err != nil {
			return fmt.Errorf("stocktake: insert sheet line: %w", err)
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (CountSheet, error) {
	var sheet CountSheet
	err := r.pool.QueryRow(ctx, `SELECT id, status, note, count_id, created_by, created_at, updated_at
FROM count_sheets WHERE id=$1`, id).
		Scan(&sheet.ID, &sheet.Status, &sheet.Note, &sheet.CountID, &sheet.CreatedBy, &sheet.CreatedAt, &sheet.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CountSheet{}, ErrNotFound
		}
		return CountSheet{}, fmt.Errorf("stocktake: get sheet: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT item_code, book_qty, counted_qty, note
FROM count_sheet_lines WHERE sheet_id=$1 ORDER BY item_code`, id)
	if err != nil {
		return CountSheet{}, fmt.Errorf("stocktake: sheet lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l SheetLine
		if err := rows.Scan(&l.ItemCode, &l.BookQty, &l.CountedQty, &l.Note); err != nil {
			return CountSheet{}, fmt.Errorf("stocktake: scan sheet line: %w", err)
		}
		sheet.Lines = append(sheet.Lines, l)
	}
	return sheet, rows.Err()
}

func (r *Repository) List(ctx context.Context, req ListSheetsRequest) ([]CountSheet, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM count_sheets
WHERE ($1::text IS NULL OR status = $1)`, req.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("stocktake: count sheets: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, status, note, count_id, created_by, created_at, updated_at
FROM count_sheets WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC LIMIT $2 OFFSET $3`, req.Status, limit, req.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("stocktake: list sheets: %w", err)
	}
	defer rows.Close()

	var out []CountSheet
	for rows.Next() {
		var sheet CountSheet
		if err := rows.Scan(&sheet.ID, &sheet.Status, &sheet.Note, &sheet.CountID, &sheet.CreatedBy, &sheet.CreatedAt, &sheet.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("stocktake: scan sheet: %w", err)
		}
		out = append(out, sheet)
	}
	return out, total, rows.Err()
}

// UpdateLines replaces a draft sheet's full line set.
func (r *Repository) UpdateLines(ctx context.Context, id string, lines []SheetLine) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE count_sheets SET updated_at=NOW() WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("stocktake: touch sheet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM count_sheet_lines WHERE sheet_id=$1`, id); err != nil {
			return fmt.Errorf("stocktake: clear sheet lines: %w", err)
		}
		return insertLines(ctx, tx, id, lines)
	})
}

// Complete marks the sheet completed and links the reconcile record.
func (r *Repository) Complete(ctx context.Context, id, countID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE count_sheets SET status=$2, count_id=$3, updated_at=NOW() WHERE id=$1`,
		id, StatusCompleted, countID)
	if err != nil {
		return fmt.Errorf("stocktake: complete sheet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE count_sheets SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("stocktake: set sheet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
