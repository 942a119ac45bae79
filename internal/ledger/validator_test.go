package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateShape(t *testing.T) {
	var v Validator

	err := v.ValidateShape(Transaction{Direction: "SIDEWAYS", Lines: []TransactionLine{{ItemCode: "A", Qty: 1}}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(ReasonInvalidDirection))

	err = v.ValidateShape(Transaction{Direction: DirectionReceipt})
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(ReasonEmptyLines))

	err = v.ValidateShape(receipt(
		TransactionLine{ItemCode: "A", Qty: 0, UnitPrice: 1},
		TransactionLine{ItemCode: "B", Qty: 2, UnitPrice: -5},
		TransactionLine{ItemCode: "B", Qty: 1, UnitPrice: 1},
	))
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Rejections, 3)
	require.True(t, verr.Has(ReasonInvalidQuantity))
	require.True(t, verr.Has(ReasonInvalidUnitPrice))
	require.True(t, verr.Has(ReasonDuplicateLineItem))

	require.NoError(t, v.ValidateShape(receipt(TransactionLine{ItemCode: "A", Qty: 1, UnitPrice: 0})))
}

func TestValidateAgainstSnapshot(t *testing.T) {
	var v Validator
	snap := Snapshot{
		"A": {QtyOnHand: 10, Active: true},
		"B": {QtyOnHand: 2, Active: true},
		"C": {QtyOnHand: 100, Active: false},
	}

	// Receipts never check sufficiency.
	require.NoError(t, v.Validate(receipt(TransactionLine{ItemCode: "B", Qty: 500, UnitPrice: 1}), snap))

	err := v.Validate(shipment(
		TransactionLine{ItemCode: "A", Qty: 10, UnitPrice: 1},
		TransactionLine{ItemCode: "B", Qty: 3, UnitPrice: 1},
		TransactionLine{ItemCode: "C", Qty: 1, UnitPrice: 1},
		TransactionLine{ItemCode: "D", Qty: 1, UnitPrice: 1},
	), snap)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Rejections, 3)

	byItem := make(map[string]LineRejection)
	for _, r := range verr.Rejections {
		byItem[r.ItemCode] = r
	}
	require.Equal(t, ReasonInsufficientStock, byItem["B"].Reason)
	require.EqualValues(t, 2, byItem["B"].Available)
	require.EqualValues(t, 3, byItem["B"].Requested)
	require.Equal(t, ReasonItemInactive, byItem["C"].Reason)
	require.Equal(t, ReasonItemNotFound, byItem["D"].Reason)
}

func TestItemCodesSortedAndDistinct(t *testing.T) {
	codes := ItemCodes([]TransactionLine{
		{ItemCode: "B"}, {ItemCode: "A"}, {ItemCode: "B"}, {ItemCode: "C"},
	})
	require.Equal(t, []string{"A", "B", "C"}, codes)
}
