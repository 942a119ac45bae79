package customers

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
	Create(ctx context.Context, c Customer) (int64, error)
	Get(ctx context.Context, id int64) (Customer, error)
	GetByCode(ctx context.Context, code string) (Customer, error)
	List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
}

// Repository persists customers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

const customerColumns = `id, code, name, phone, email, address, tax_id, notes, is_active, created_by, created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address, &c.TaxID, &c.Notes, &c.IsActive, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("customers: scan: %w", err)
	}
	return c, nil
}

func (r *Repository) Create(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO customers (code, name, phone, email, address, tax_id, notes, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, NOW(), NOW())
RETURNING id`, c.Code, c.Name, c.Phone, c.Email, c.Address, c.TaxID, c.Notes, c.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrCodeTaken
		}
		return 0, fmt.Errorf("customers: insert: %w", err)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=$1`, id))
}

func (r *Repository) GetByCode(ctx context.Context, code string) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE code=$1`, code))
}

func (r *Repository) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	search := ""
	if req.Search != nil {
		search = *req.Search
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers
WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
AND ($2::boolean IS NULL OR is_active = $2)`, search, req.IsActive).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("customers: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers
WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
AND ($2::boolean IS NULL OR is_active = $2)
ORDER BY code
LIMIT $3 OFFSET $4`, search, req.IsActive, limit, req.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("customers: list: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	allowed := map[string]bool{
		"name": true, "phone": true, "email": true, "address": true,
		"tax_id": true, "notes": true, "is_active": true,
	}
	sets := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates)+1)
	args = append(args, id)
	for col, val := range updates {
		if !allowed[col] {
			return fmt.Errorf("customers: update column %q not allowed", col)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET `+strings.Join(sets, ", ")+`, updated_at=NOW() WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("customers: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
