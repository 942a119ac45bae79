package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Discrepancy is a stock_discrepancies row surfaced by the registry.
type Discrepancy struct {
	ID            int64      `json:"id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	ItemCode      string     `json:"item_code"`
	ExpectedQty   int64      `json:"expected_qty"`
	ActualQty     int64      `json:"actual_qty"`
	Source        string     `json:"source"`
	Detail        string     `json:"detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// RepositoryPort abstracts the audit queries.
type RepositoryPort interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
	ListDiscrepancies(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]Discrepancy, int, error)
	ResolveDiscrepancy(ctx context.Context, id int64) error
}

// Repository reads audit data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TimelineWindow returns one page of audit rows, newest first. Callers
// pass limit = pageSize+1 to detect whether a next page exists.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT occurred_at, actor_id, action, entity, entity_id, status, COALESCE(error, ''), before, after
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
AND ($2::timestamptz IS NULL OR occurred_at < $2)
AND ($3::bigint = 0 OR actor_id = $3)
AND ($4::text = '' OR entity = $4)
AND ($5::text = '' OR action = $5)
AND ($6::text = '' OR status = $6)
ORDER BY occurred_at DESC
LIMIT $7 OFFSET $8`,
		nullableTime(filters.From), nullableTime(filters.To),
		filters.ActorID, filters.Entity, filters.Action, filters.Status,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var before, after []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Status, &row.Error, &before, &after); err != nil {
			return nil, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		if len(before) > 0 {
			_ = json.Unmarshal(before, &row.Before)
		}
		if len(after) > 0 {
			_ = json.Unmarshal(after, &row.After)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) ListDiscrepancies(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]Discrepancy, int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_discrepancies
WHERE (NOT $1::boolean OR resolved_at IS NULL)`, unresolvedOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count discrepancies: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(transaction_id, ''), item_code, expected_qty, actual_qty, source, COALESCE(detail, ''), created_at, resolved_at
FROM stock_discrepancies
WHERE (NOT $1::boolean OR resolved_at IS NULL)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, unresolvedOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ID, &d.TransactionID, &d.ItemCode, &d.ExpectedQty, &d.ActualQty, &d.Source, &d.Detail, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan discrepancy: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *Repository) ResolveDiscrepancy(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_discrepancies SET resolved_at=NOW() WHERE id=$1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("audit: resolve discrepancy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDiscrepancyNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
