package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, product Product) (int64, error)
	Get(ctx context.Context, id int64) (Product, int64, error)
	GetByCode(ctx context.Context, code string) (Product, int64, error)
	List(ctx context.Context, filter ListFilter) ([]Product, map[string]int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
}

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// Create inserts the product and seeds its zero-quantity stock row in the
// same transaction so the ledger always finds a row to lock.
func (r *Repository) Create(ctx context.Context, product Product) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO products (code, name, unit, sale_price, barcode, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), TRUE, $6, NOW(), NOW())
RETURNING id`, product.Code, product.Name, product.Unit, product.SalePrice, product.Barcode, product.CreatedBy).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrCodeTaken
			}
			return fmt.Errorf("catalog: insert product: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stock_items (item_code, qty_on_hand, updated_at)
VALUES ($1, 0, NOW()) ON CONFLICT (item_code) DO NOTHING`, product.Code); err != nil {
			return fmt.Errorf("catalog: seed stock row: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const productColumns = `p.id, p.code, p.name, p.unit, p.sale_price, COALESCE(p.barcode, ''), p.is_active, p.created_by, p.created_at, p.updated_at, COALESCE(s.qty_on_hand, 0)`

func scanProduct(row pgx.Row) (Product, int64, error) {
	var p Product
	var qty int64
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.SalePrice, &p.Barcode, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, 0, ErrNotFound
		}
		return Product{}, 0, fmt.Errorf("catalog: scan product: %w", err)
	}
	return p, qty, nil
}

// Get loads one product with its current stock quantity.
func (r *Repository) Get(ctx context.Context, id int64) (Product, int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+`
FROM products p LEFT JOIN stock_items s ON s.item_code = p.code
WHERE p.id=$1`, id)
	return scanProduct(row)
}

// GetByCode loads one product by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Product, int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+`
FROM products p LEFT JOIN stock_items s ON s.item_code = p.code
WHERE p.code=$1`, code)
	return scanProduct(row)
}

// List returns products matching the filter plus their stock quantities.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, map[string]int64, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + productColumns + `
FROM products p LEFT JOIN stock_items s ON s.item_code = p.code
WHERE ($1 = '' OR p.code ILIKE '%' || $1 || '%' OR p.name ILIKE '%' || $1 || '%')
AND ($2::boolean IS NULL OR p.is_active = $2)
ORDER BY p.code
LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, filter.Search, filter.IsActive, limit, filter.Offset)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	quantities := make(map[string]int64)
	for rows.Next() {
		p, qty, err := scanProduct(rows)
		if err != nil {
			return nil, nil, err
		}
		products = append(products, p)
		quantities[p.Code] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return products, quantities, nil
}

// Update applies the given column updates to one product.
func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	sets := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+1)
	i := 1
	for _, col := range []string{"name", "unit", "sale_price", "barcode", "is_active"} {
		val, ok := updates[col]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s=$%d", col, i))
		args = append(args, val)
		i++
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, id)
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("UPDATE products SET %s WHERE id=$%d", strings.Join(sets, ", "), i), args...)
	if err != nil {
		return fmt.Errorf("catalog: update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
