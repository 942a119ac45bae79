package catalog

import (
	"errors"
	"time"
)

// Product is one catalog entry. Going out of business is a soft delete:
// the row stays while any transaction references it.
type Product struct {
	ID        int64
	Code      string
	Name      string
	Unit      string
	SalePrice float64
	Barcode   string
	IsActive  bool
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrCodeTaken indicates a duplicate product code.
var ErrCodeTaken = errors.New("catalog: product code already exists")

// ErrNotFound indicates a missing product.
var ErrNotFound = errors.New("catalog: product not found")

// ListFilter narrows product listings.
type ListFilter struct {
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}
