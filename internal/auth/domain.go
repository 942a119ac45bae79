package auth

import (
	"errors"
	"time"
)

var ErrEmailTaken = errors.New("auth: email already registered")

// Account is a staff login. Roles are coarse: ADMIN manages accounts,
// STAFF runs the warehouse.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	RoleAdmin = "ADMIN"
	RoleStaff = "STAFF"
)
