package stocktake

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("stocktake: count sheet not found")
	ErrNotDraft = errors.New("stocktake: count sheet is not a draft")
	ErrNoLines  = errors.New("stocktake: count sheet has no lines")
)

// Sheet statuses. Only drafts are mutable; completion reconciles the
// ledger and freezes the sheet.
const (
	StatusDraft     = "DRAFT"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// SheetLine pairs the book quantity captured at sheet creation with the
// physically counted quantity entered later.
type SheetLine struct {
	ItemCode   string  `json:"item_code" db:"item_code"`
	BookQty    int64   `json:"book_qty" db:"book_qty"`
	CountedQty *int64  `json:"counted_qty,omitempty" db:"counted_qty"`
	Note       *string `json:"note,omitempty" db:"note"`
}

// CountSheet is a physical stocktake in progress or completed. The
// reconcile record written by the ledger on completion is referenced by
// CountID.
type CountSheet struct {
	ID        string      `json:"id" db:"id"`
	Status    string      `json:"status" db:"status"`
	Note      *string     `json:"note,omitempty" db:"note"`
	CountID   *string     `json:"count_id,omitempty" db:"count_id"`
	Lines     []SheetLine `json:"lines" db:"-"`
	CreatedBy int64       `json:"created_by" db:"created_by"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}
