package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/ledger"
)

type fakeLedger struct {
	applied  []ledger.Transaction
	reversed []string
	failNext error
}

func (f *fakeLedger) Apply(ctx context.Context, tx ledger.Transaction) (ledger.CommitResult, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return ledger.CommitResult{}, err
	}
	tx.ID = uuid.NewString()
	f.applied = append(f.applied, tx)
	return ledger.CommitResult{TransactionID: tx.ID}, nil
}

func (f *fakeLedger) Reverse(ctx context.Context, txID string, actorID int64) (ledger.CommitResult, error) {
	f.reversed = append(f.reversed, txID)
	return ledger.CommitResult{TransactionID: uuid.NewString()}, nil
}

type memoryRepo struct {
	slips            map[string]ExportSlip
	failReplaceTimes int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{slips: make(map[string]ExportSlip)}
}

func (r *memoryRepo) Create(ctx context.Context, slip ExportSlip) error {
	r.slips[slip.ID] = slip
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (ExportSlip, error) {
	slip, ok := r.slips[id]
	if !ok {
		return ExportSlip{}, ErrNotFound
	}
	return slip, nil
}

func (r *memoryRepo) List(ctx context.Context, req ListSlipsRequest) ([]ExportSlip, int, error) {
	var out []ExportSlip
	for _, s := range r.slips {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Replace(ctx context.Context, slip ExportSlip) error {
	if r.failReplaceTimes > 0 {
		r.failReplaceTimes--
		return errors.New("disk full")
	}
	if _, ok := r.slips[slip.ID]; !ok {
		return ErrNotFound
	}
	r.slips[slip.ID] = slip
	return nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id, status string) error {
	slip, ok := r.slips[id]
	if !ok {
		return ErrNotFound
	}
	slip.Status = status
	r.slips[id] = slip
	return nil
}

func TestCreateRejectedWhenLedgerRefusesOversell(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{failNext: &ledger.ValidationError{Rejections: []ledger.LineRejection{
		{ItemCode: "HH01", Reason: ledger.ReasonInsufficientStock, Available: 3, Requested: 10},
	}}}
	svc := NewService(repo, led, nil)

	_, err := svc.Create(context.Background(), CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 10, UnitPrice: 8000}},
	}, 7)

	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.True(t, vErr.Has(ledger.ReasonInsufficientStock))
	require.Empty(t, repo.slips)
}

func TestCreateLinksInvoice(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)

	invoice := "INV-2026-0042"
	slip, err := svc.Create(context.Background(), CreateSlipRequest{
		InvoiceNo: &invoice,
		Lines:     []SlipLineRequest{{ItemCode: "HH01", Qty: 5, UnitPrice: 8000}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, &invoice, slip.InvoiceNo)
	require.Equal(t, ledger.DirectionShipment, led.applied[0].Direction)
	require.Equal(t, "shipping", led.applied[0].RefModule)
}

func TestUpdateReversesBeforeApplyingNewLines(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 5, UnitPrice: 8000}},
	}, 7)
	require.NoError(t, err)
	oldTx := slip.TransactionID

	updated, err := svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 8, UnitPrice: 8000}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, []string{oldTx}, led.reversed)
	require.Equal(t, int64(8), updated.Lines[0].Qty)
}

func TestUpdateRestoresOldShipmentWhenRejected(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 5, UnitPrice: 8000}},
	}, 7)
	require.NoError(t, err)

	led.failNext = &ledger.ValidationError{Rejections: []ledger.LineRejection{
		{ItemCode: "HH01", Reason: ledger.ReasonInsufficientStock},
	}}
	_, err = svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 500}},
	}, 7)
	require.Error(t, err)

	restored := led.applied[len(led.applied)-1]
	require.Equal(t, int64(5), restored.Lines[0].Qty)
	stored, err := repo.Get(ctx, slip.ID)
	require.NoError(t, err)
	require.Equal(t, restored.ID, stored.TransactionID)
}

func TestCancelExportSlip(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 5}},
	}, 7)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, slip.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, []string{slip.TransactionID}, led.reversed)
}

func TestUpdateUnwindsNewMovementWhenSlipWriteFails(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 5, UnitPrice: 8000}},
	}, 7)
	require.NoError(t, err)
	oldTx := slip.TransactionID

	repo.failReplaceTimes = 1
	_, err = svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 8, UnitPrice: 8000}},
	}, 7)
	require.Error(t, err)

	// Old reversed, new applied, new reversed again, old re-applied.
	require.Len(t, led.applied, 3)
	require.Equal(t, []string{oldTx, led.applied[1].ID}, led.reversed)
	restored := led.applied[2]
	require.Equal(t, int64(5), restored.Lines[0].Qty)

	stored, err := repo.Get(ctx, slip.ID)
	require.NoError(t, err)
	require.Equal(t, restored.ID, stored.TransactionID)
	require.Equal(t, int64(5), stored.Lines[0].Qty)
	require.Equal(t, StatusPosted, stored.Status)
}

func TestCreateForwardsIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)

	_, err := svc.Create(context.Background(), CreateSlipRequest{
		Lines:          []SlipLineRequest{{ItemCode: "HH01", Qty: 5, UnitPrice: 8000}},
		IdempotencyKey: "req-88",
	}, 7)
	require.NoError(t, err)
	require.Len(t, led.applied, 1)
	require.Equal(t, "req-88", led.applied[0].IdempotencyKey)
}
