package receiving

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("receiving: import slip not found")
	ErrNotEditable = errors.New("receiving: import slip is cancelled")
)

// Slip statuses. A slip is POSTED the moment its stock movement commits;
// cancelling reverses the movement but keeps the document for audit.
const (
	StatusPosted    = "POSTED"
	StatusCancelled = "CANCELLED"
)

// SlipLine is one received item on an import slip.
type SlipLine struct {
	ItemCode  string  `json:"item_code" db:"item_code"`
	Qty       int64   `json:"qty" db:"qty"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
}

// ImportSlip records a goods receipt from a supplier. The stock side
// effect lives in the ledger transaction it references.
type ImportSlip struct {
	ID            string     `json:"id" db:"id"`
	SupplierID    *int64     `json:"supplier_id,omitempty" db:"supplier_id"`
	TransactionID string     `json:"transaction_id" db:"transaction_id"`
	Status        string     `json:"status" db:"status"`
	Note          *string    `json:"note,omitempty" db:"note"`
	Lines         []SlipLine `json:"lines" db:"-"`
	CreatedBy     int64      `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
