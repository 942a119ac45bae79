package suppliers

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("suppliers: not found")
	ErrCodeTaken = errors.New("suppliers: code already exists")
)

type Supplier struct {
	ID            int64     `json:"id" db:"id"`
	Code          string    `json:"code" db:"code"`
	Name          string    `json:"name" db:"name"`
	ContactPerson *string   `json:"contact_person,omitempty" db:"contact_person"`
	Phone         *string   `json:"phone,omitempty" db:"phone"`
	Email         *string   `json:"email,omitempty" db:"email"`
	Address       *string   `json:"address,omitempty" db:"address"`
	TaxID         *string   `json:"tax_id,omitempty" db:"tax_id"`
	Notes         *string   `json:"notes,omitempty" db:"notes"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedBy     int64     `json:"created_by" db:"created_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
