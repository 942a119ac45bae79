package stocktake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/ledger"
)

type fakeLedger struct {
	stock      map[string]int64
	reconciled []ledger.InventoryCount
	failNext   error
}

func (f *fakeLedger) Stock(ctx context.Context, itemCode string) (ledger.StockItem, error) {
	qty, ok := f.stock[itemCode]
	if !ok {
		return ledger.StockItem{}, &ledger.ValidationError{Rejections: []ledger.LineRejection{
			{ItemCode: itemCode, Reason: ledger.ReasonItemNotFound},
		}}
	}
	return ledger.StockItem{ItemCode: itemCode, QtyOnHand: qty}, nil
}

func (f *fakeLedger) Reconcile(ctx context.Context, count ledger.InventoryCount) (ledger.CommitResult, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return ledger.CommitResult{}, err
	}
	f.reconciled = append(f.reconciled, count)
	return ledger.CommitResult{TransactionID: count.ID}, nil
}

type memoryRepo struct {
	sheets map[string]CountSheet
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sheets: make(map[string]CountSheet)}
}

func (r *memoryRepo) Create(ctx context.Context, sheet CountSheet) error {
	r.sheets[sheet.ID] = sheet
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (CountSheet, error) {
	sheet, ok := r.sheets[id]
	if !ok {
		return CountSheet{}, ErrNotFound
	}
	return sheet, nil
}

func (r *memoryRepo) List(ctx context.Context, req ListSheetsRequest) ([]CountSheet, int, error) {
	var out []CountSheet
	for _, s := range r.sheets {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *memoryRepo) UpdateLines(ctx context.Context, id string, lines []SheetLine) error {
	sheet, ok := r.sheets[id]
	if !ok {
		return ErrNotFound
	}
	sheet.Lines = lines
	r.sheets[id] = sheet
	return nil
}

func (r *memoryRepo) Complete(ctx context.Context, id, countID string) error {
	sheet, ok := r.sheets[id]
	if !ok {
		return ErrNotFound
	}
	sheet.Status = StatusCompleted
	sheet.CountID = &countID
	r.sheets[id] = sheet
	return nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id, status string) error {
	sheet, ok := r.sheets[id]
	if !ok {
		return ErrNotFound
	}
	sheet.Status = status
	r.sheets[id] = sheet
	return nil
}

func TestCreateSnapshotsBookQuantities(t *testing.T) {
	led := &fakeLedger{stock: map[string]int64{"HH01": 70, "HH02": 12}}
	svc := NewService(newMemoryRepo(), led)

	sheet, err := svc.Create(context.Background(), CreateSheetRequest{
		ItemCodes: []string{"HH01", "HH02", "HH01"},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sheet.Status)
	// Duplicates collapse to one line.
	require.Len(t, sheet.Lines, 2)
	require.Equal(t, int64(70), sheet.Lines[0].BookQty)
}

func TestCreateRejectsUnknownItem(t *testing.T) {
	led := &fakeLedger{stock: map[string]int64{}}
	svc := NewService(newMemoryRepo(), led)

	_, err := svc.Create(context.Background(), CreateSheetRequest{ItemCodes: []string{"NOPE"}}, 7)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestCompleteReconcilesCountedQuantities(t *testing.T) {
	led := &fakeLedger{stock: map[string]int64{"HH01": 70}}
	repo := newMemoryRepo()
	svc := NewService(repo, led)
	ctx := context.Background()

	sheet, err := svc.Create(ctx, CreateSheetRequest{ItemCodes: []string{"HH01"}}, 7)
	require.NoError(t, err)

	_, err = svc.RecordCounts(ctx, sheet.ID, RecordCountRequest{
		Lines: []RecordCountLine{{ItemCode: "HH01", CountedQty: 65}},
	})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, sheet.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CountID)

	require.Len(t, led.reconciled, 1)
	line := led.reconciled[0].Lines[0]
	require.Equal(t, int64(70), line.BookQty)
	require.Equal(t, int64(65), line.CountedQty)

	// Completed sheets are frozen.
	_, err = svc.Complete(ctx, sheet.ID, 7)
	require.ErrorIs(t, err, ErrNotDraft)
	_, err = svc.RecordCounts(ctx, sheet.ID, RecordCountRequest{
		Lines: []RecordCountLine{{ItemCode: "HH01", CountedQty: 1}},
	})
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestCompleteRequiresEveryLineCounted(t *testing.T) {
	led := &fakeLedger{stock: map[string]int64{"HH01": 70, "HH02": 5}}
	svc := NewService(newMemoryRepo(), led)
	ctx := context.Background()

	sheet, err := svc.Create(ctx, CreateSheetRequest{ItemCodes: []string{"HH01", "HH02"}}, 7)
	require.NoError(t, err)

	_, err = svc.RecordCounts(ctx, sheet.ID, RecordCountRequest{
		Lines: []RecordCountLine{{ItemCode: "HH01", CountedQty: 65}},
	})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, sheet.ID, 7)
	require.Error(t, err)
	require.Empty(t, led.reconciled)
}

func TestRecordCountsRejectsForeignItem(t *testing.T) {
	led := &fakeLedger{stock: map[string]int64{"HH01": 70}}
	svc := NewService(newMemoryRepo(), led)
	ctx := context.Background()

	sheet, err := svc.Create(ctx, CreateSheetRequest{ItemCodes: []string{"HH01"}}, 7)
	require.NoError(t, err)

	_, err = svc.RecordCounts(ctx, sheet.ID, RecordCountRequest{
		Lines: []RecordCountLine{{ItemCode: "HH99", CountedQty: 3}},
	})
	require.Error(t, err)
}
