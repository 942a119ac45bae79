package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort defines persistence operations for the auth module.
// Session liveness lives in Redis; the sessions table is the audit trail
// of who logged in from where.
type RepositoryPort interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	CreateAccount(ctx context.Context, a Account) (int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
	RecordLogin(ctx context.Context, token string, accountID int64, expiresAt time.Time, ip, ua string) error
	RecordLogout(ctx context.Context, token string) error
}

// Repository implements RepositoryPort using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

const accountColumns = `id, email, name, role, password_hash, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, fmt.Errorf("auth: scan account: %w", err)
	}
	return a, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, email))
}

func (r *Repository) FindByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *Repository) CreateAccount(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (email, name, role, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW()) RETURNING id`,
		a.Email, a.Name, a.Role, a.PasswordHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("auth: insert account: %w", err)
	}
	return id, nil
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return fmt.Errorf("auth: set account active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) RecordLogin(ctx context.Context, token string, accountID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (token, account_id, created_at, expires_at, ip, ua)
VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`,
		token, accountID, expiresAt.UTC(), ip, ua)
	if err != nil {
		return fmt.Errorf("auth: record login: %w", err)
	}
	return nil
}

func (r *Repository) RecordLogout(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("auth: record logout: %w", err)
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
