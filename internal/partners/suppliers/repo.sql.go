package suppliers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, s Supplier) (int64, error)
	Get(ctx context.Context, id int64) (Supplier, error)
	GetByCode(ctx context.Context, code string) (Supplier, error)
	List(ctx context.Context, req ListSuppliersRequest) ([]Supplier, int, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
}

// Repository persists suppliers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

const supplierColumns = `id, code, name, contact_person, phone, email, address, tax_id, notes, is_active, created_by, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.ContactPerson, &s.Phone, &s.Email, &s.Address, &s.TaxID, &s.Notes, &s.IsActive, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, fmt.Errorf("suppliers: scan: %w", err)
	}
	return s, nil
}

func (r *Repository) Create(ctx context.Context, s Supplier) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (code, name, contact_person, phone, email, address, tax_id, notes, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, NOW(), NOW())
RETURNING id`, s.Code, s.Name, s.ContactPerson, s.Phone, s.Email, s.Address, s.TaxID, s.Notes, s.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrCodeTaken
		}
		return 0, fmt.Errorf("suppliers: insert: %w", err)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Supplier, error) {
	return scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=$1`, id))
}

func (r *Repository) GetByCode(ctx context.Context, code string) (Supplier, error) {
	return scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE code=$1`, code))
}

func (r *Repository) List(ctx context.Context, req ListSuppliersRequest) ([]Supplier, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	search := ""
	if req.Search != nil {
		search = *req.Search
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers
WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
AND ($2::boolean IS NULL OR is_active = $2)`, search, req.IsActive).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("suppliers: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers
WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
AND ($2::boolean IS NULL OR is_active = $2)
ORDER BY code
LIMIT $3 OFFSET $4`, search, req.IsActive, limit, req.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("suppliers: list: %w", err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	allowed := map[string]bool{
		"name": true, "contact_person": true, "phone": true, "email": true,
		"address": true, "tax_id": true, "notes": true, "is_active": true,
	}
	sets := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates)+1)
	args = append(args, id)
	for col, val := range updates {
		if !allowed[col] {
			return fmt.Errorf("suppliers: update column %q not allowed", col)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	tag, err := r.pool.Exec(ctx, `UPDATE suppliers SET `+strings.Join(sets, ", ")+`, updated_at=NOW() WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("suppliers: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
