package shipping

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("shipping: export slip not found")
	ErrNotEditable = errors.New("shipping: export slip is cancelled")
)

const (
	StatusPosted    = "POSTED"
	StatusCancelled = "CANCELLED"
)

// SlipLine is one shipped item on an export slip.
type SlipLine struct {
	ItemCode  string  `json:"item_code" db:"item_code"`
	Qty       int64   `json:"qty" db:"qty"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
}

// ExportSlip records goods leaving the warehouse, optionally tied to a
// sales invoice. The stock decrease lives in the referenced ledger
// transaction.
type ExportSlip struct {
	ID            string     `json:"id" db:"id"`
	CustomerID    *int64     `json:"customer_id,omitempty" db:"customer_id"`
	InvoiceNo     *string    `json:"invoice_no,omitempty" db:"invoice_no"`
	TransactionID string     `json:"transaction_id" db:"transaction_id"`
	Status        string     `json:"status" db:"status"`
	Note          *string    `json:"note,omitempty" db:"note"`
	Lines         []SlipLine `json:"lines" db:"-"`
	CreatedBy     int64      `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
