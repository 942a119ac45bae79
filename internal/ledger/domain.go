package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction enumerates supported stock movements.
type Direction string

const (
	// DirectionReceipt represents an inbound movement (import slip).
	DirectionReceipt Direction = "RECEIPT"
	// DirectionShipment represents an outbound movement (export slip).
	DirectionShipment Direction = "SHIPMENT"
)

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	return d == DirectionReceipt || d == DirectionShipment
}

// StockItem is the per-item on-hand quantity owned by the stock store.
type StockItem struct {
	ItemCode  string
	QtyOnHand int64
	UpdatedAt time.Time
}

// TransactionLine is one item movement inside a transaction.
type TransactionLine struct {
	ItemCode  string
	Qty       int64
	UnitPrice float64
}

// Transaction models a committed or proposed stock movement. Once applied
// it is immutable; edits are modelled as reverse plus re-apply.
type Transaction struct {
	ID        string
	Direction Direction
	RefModule string
	RefID     string
	Lines     []TransactionLine
	CreatedBy int64
	CreatedAt time.Time
	Reversed  bool

	// IdempotencyKey dedupes replayed submissions of the same client
	// request. Empty means the caller opted out.
	IdempotencyKey string
}

// CountLine compares the book quantity against a physical count.
type CountLine struct {
	ItemCode   string
	BookQty    int64
	CountedQty int64
	Note       string
}

// InventoryCount is a completed physical stock count.
type InventoryCount struct {
	ID        string
	Lines     []CountLine
	CreatedBy int64
	CreatedAt time.Time
}

// Delta returns countedQty - bookQty for one line.
func (l CountLine) Delta() int64 {
	return l.CountedQty - l.BookQty
}

// LineChange reports the before/after quantity of one item after an
// apply, reverse or reconcile.
type LineChange struct {
	ItemCode  string
	QtyBefore int64
	QtyAfter  int64
}

// CommitResult summarises a successful ledger operation.
type CommitResult struct {
	TransactionID string
	Changes       []LineChange
	CommittedAt   time.Time
}

// Rejection reason codes carried inside a ValidationError.
const (
	ReasonItemNotFound      = "ITEM_NOT_FOUND"
	ReasonItemInactive      = "ITEM_INACTIVE"
	ReasonInvalidQuantity   = "INVALID_QUANTITY"
	ReasonInvalidUnitPrice  = "INVALID_UNIT_PRICE"
	ReasonInvalidDirection  = "INVALID_DIRECTION"
	ReasonEmptyLines        = "EMPTY_LINES"
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
	ReasonDuplicateLineItem = "DUPLICATE_LINE_ITEM"
)

// LineRejection explains why a single line failed validation.
type LineRejection struct {
	ItemCode  string `json:"item_code"`
	Reason    string `json:"reason"`
	Available int64  `json:"available,omitempty"`
	Requested int64  `json:"requested,omitempty"`
}

// ValidationError aggregates every failing line of a transaction. It is
// client-fixable and never retried automatically.
type ValidationError struct {
	Rejections []LineRejection
}

func (e *ValidationError) Error() string {
	if len(e.Rejections) == 0 {
		return "ledger: validation failed"
	}
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		if r.Reason == ReasonInsufficientStock {
			parts = append(parts, fmt.Sprintf("%s: %s (available %d, requested %d)", r.ItemCode, r.Reason, r.Available, r.Requested))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.ItemCode, r.Reason))
	}
	return "ledger: validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether any rejection carries the given reason code.
func (e *ValidationError) Has(reason string) bool {
	for _, r := range e.Rejections {
		if r.Reason == reason {
			return true
		}
	}
	return false
}

// StorageError wraps an infrastructure failure. Nothing was left applied
// unless it is wrapped inside a PartialFailureError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PartialFailureError reports a failed operation whose compensating
// rollback also failed, leaving the listed line changes applied. It must
// be surfaced and persisted, never swallowed.
type PartialFailureError struct {
	TransactionID  string
	Applied        []LineChange
	Cause          error
	RollbackErrors []error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("ledger: partial failure on %s: %d line(s) left applied after failed rollback (cause: %v)",
		e.TransactionID, len(e.Applied), e.Cause)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}

// ErrTransactionNotFound indicates an unknown transaction id on reverse.
var ErrTransactionNotFound = errors.New("ledger: transaction not found")

// ErrAlreadyReversed indicates a second reverse of the same transaction.
var ErrAlreadyReversed = errors.New("ledger: transaction already reversed")

// ErrAtomicityUnsupported is returned by stores that cannot guarantee
// multi-row atomicity, switching the ledger into compensating mode.
var ErrAtomicityUnsupported = errors.New("ledger: store cannot guarantee atomicity")

// ErrStockConflict is returned by conditional stock updates whose guard
// matched no row (concurrent drain below the requested quantity).
var ErrStockConflict = errors.New("ledger: stock update guard failed")
