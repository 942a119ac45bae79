package ledger

import "sort"

// SnapshotEntry is one item's state at validation start.
type SnapshotEntry struct {
	QtyOnHand int64
	Active    bool
}

// Snapshot is a consistent view of stock taken once per validation; lines
// are never checked against re-read quantities.
type Snapshot map[string]SnapshotEntry

// ItemCodes returns the distinct item codes of a transaction in sorted
// order. Lock acquisition follows this order to avoid deadlocks between
// transactions wanting each other's items.
func ItemCodes(lines []TransactionLine) []string {
	seen := make(map[string]struct{}, len(lines))
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemCode]; ok {
			continue
		}
		seen[line.ItemCode] = struct{}{}
		codes = append(codes, line.ItemCode)
	}
	sort.Strings(codes)
	return codes
}

// Validator checks proposed transactions against the catalog and a stock
// snapshot. A rejection lists every failing line, not just the first.
type Validator struct{}

// ValidateShape checks everything that needs no stock snapshot: known
// direction, at least one line, unique item codes, positive quantities and
// non-negative prices.
func (Validator) ValidateShape(tx Transaction) error {
	var rejections []LineRejection
	if !tx.Direction.Valid() {
		return &ValidationError{Rejections: []LineRejection{{Reason: ReasonInvalidDirection}}}
	}
	if len(tx.Lines) == 0 {
		return &ValidationError{Rejections: []LineRejection{{Reason: ReasonEmptyLines}}}
	}
	seen := make(map[string]bool, len(tx.Lines))
	for _, line := range tx.Lines {
		if seen[line.ItemCode] {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonDuplicateLineItem})
			continue
		}
		seen[line.ItemCode] = true
		if line.ItemCode == "" || line.Qty <= 0 {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonInvalidQuantity, Requested: line.Qty})
		}
		if line.UnitPrice < 0 {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonInvalidUnitPrice})
		}
	}
	if len(rejections) > 0 {
		return &ValidationError{Rejections: rejections}
	}
	return nil
}

// Validate runs the full check: shape plus catalog existence for every
// line, and stock sufficiency for shipments, all against one snapshot.
func (v Validator) Validate(tx Transaction, stock Snapshot) error {
	if err := v.ValidateShape(tx); err != nil {
		return err
	}
	var rejections []LineRejection
	for _, line := range tx.Lines {
		entry, ok := stock[line.ItemCode]
		if !ok {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonItemNotFound, Requested: line.Qty})
			continue
		}
		if !entry.Active {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonItemInactive, Requested: line.Qty})
			continue
		}
		if tx.Direction == DirectionShipment && entry.QtyOnHand < line.Qty {
			rejections = append(rejections, LineRejection{
				ItemCode:  line.ItemCode,
				Reason:    ReasonInsufficientStock,
				Available: entry.QtyOnHand,
				Requested: line.Qty,
			})
		}
	}
	if len(rejections) > 0 {
		return &ValidationError{Rejections: rejections}
	}
	return nil
}
