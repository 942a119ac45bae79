package receiving

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
	slips            map[string]ImportSlip
	failCreate       error
	failReplaceTimes int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{slips: make(map[string]ImportSlip)}
}

func (r *memoryRepo) Create(ctx context.Context, slip ImportSlip) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.slips[slip.ID] = slip
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (ImportSlip, error) {
	slip, ok := r.slips[id]
	if !ok {
		return ImportSlip{}, ErrNotFound
	}
	return slip, nil
}

func (r *memoryRepo) List(ctx context.Context, req ListSlipsRequest) ([]ImportSlip, int, error) {
	var out []ImportSlip
	for _, s := range r.slips {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Replace(ctx context.Context, slip ImportSlip) error {
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

func TestCreatePostsThroughLedger(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)

	slip, err := svc.Create(context.Background(), CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20, UnitPrice: 5000}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, slip.Status)
	require.NotEmpty(t, slip.TransactionID)

	require.Len(t, led.applied, 1)
	require.Equal(t, ledger.DirectionReceipt, led.applied[0].Direction)
	require.Equal(t, "receiving", led.applied[0].RefModule)
	require.Equal(t, slip.ID, led.applied[0].RefID)

	stored, err := repo.Get(context.Background(), slip.ID)
	require.NoError(t, err)
	require.Equal(t, slip.TransactionID, stored.TransactionID)
}

func TestCreateReversesOnSlipWriteFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.failCreate = errors.New("disk full")
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)

	_, err := svc.Create(context.Background(), CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20}},
	}, 7)
	require.Error(t, err)
	require.Len(t, led.applied, 1)
	require.Equal(t, []string{led.applied[0].ID}, led.reversed)
}

func TestUpdateReversesThenApplies(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20, UnitPrice: 5000}},
	}, 7)
	require.NoError(t, err)
	oldTx := slip.TransactionID

	updated, err := svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 30, UnitPrice: 5000}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, []string{oldTx}, led.reversed)
	require.NotEqual(t, oldTx, updated.TransactionID)
	require.Equal(t, int64(30), updated.Lines[0].Qty)
}

func TestUpdateRestoresOldLinesWhenNewApplyRejected(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20, UnitPrice: 5000}},
	}, 7)
	require.NoError(t, err)

	led.failNext = &ledger.ValidationError{Rejections: []ledger.LineRejection{{ItemCode: "XX", Reason: ledger.ReasonItemNotFound}}}
	_, err = svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "XX", Qty: 5}},
	}, 7)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)

	// Old movement reversed, then restored with the original quantities.
	require.Len(t, led.reversed, 1)
	require.Len(t, led.applied, 2)
	restored := led.applied[1]
	require.Equal(t, int64(20), restored.Lines[0].Qty)

	stored, err := repo.Get(ctx, slip.ID)
	require.NoError(t, err)
	require.Equal(t, restored.ID, stored.TransactionID)
	require.Equal(t, StatusPosted, stored.Status)
}

func TestCancelReversesAndKeepsDocument(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20}},
	}, 7)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, slip.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, []string{slip.TransactionID}, led.reversed)

	// A cancelled slip cannot be edited or cancelled again.
	_, err = svc.Cancel(ctx, slip.ID, 7)
	require.ErrorIs(t, err, ErrNotEditable)
	_, err = svc.Update(ctx, slip.ID, UpdateSlipRequest{Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 1}}}, 7)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestUpdateUnwindsNewMovementWhenSlipWriteFails(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)
	ctx := context.Background()

	slip, err := svc.Create(ctx, CreateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 20, UnitPrice: 5000}},
	}, 7)
	require.NoError(t, err)
	oldTx := slip.TransactionID

	repo.failReplaceTimes = 1
	_, err = svc.Update(ctx, slip.ID, UpdateSlipRequest{
		Lines: []SlipLineRequest{{ItemCode: "HH01", Qty: 30, UnitPrice: 5000}},
	}, 7)
	require.Error(t, err)

	// Old reversed, new applied, new reversed again, old re-applied.
	require.Len(t, led.applied, 3)
	require.Equal(t, []string{oldTx, led.applied[1].ID}, led.reversed)
	restored := led.applied[2]
	require.Equal(t, int64(20), restored.Lines[0].Qty)

	stored, err := repo.Get(ctx, slip.ID)
	require.NoError(t, err)
	require.Equal(t, restored.ID, stored.TransactionID)
	require.Equal(t, int64(20), stored.Lines[0].Qty)
	require.Equal(t, StatusPosted, stored.Status)
}

func TestCreateForwardsIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, nil)

	_, err := svc.Create(context.Background(), CreateSlipRequest{
		Lines:          []SlipLineRequest{{ItemCode: "HH01", Qty: 20, UnitPrice: 5000}},
		IdempotencyKey: "req-77",
	}, 7)
	require.NoError(t, err)
	require.Len(t, led.applied, 1)
	require.Equal(t, "req-77", led.applied[0].IdempotencyKey)
}
