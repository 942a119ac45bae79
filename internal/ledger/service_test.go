package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/shared"
)

type memItem struct {
	qty    int64
	active bool
}

// memoryRepo implements RepositoryPort in memory. With atomic=true the
// unit commits or restores a snapshot; with atomic=false WithAtomicUnit
// refuses, pushing the service into compensating mode.
type memoryRepo struct {
	mu            sync.Mutex
	items         map[string]*memItem
	txs           map[string]*Transaction
	counts        map[string]InventoryCount
	discrepancies []Discrepancy
	atomic        bool

	adjustCalls    int
	failAdjustOn   int // fail the Nth AdjustStock (1-based), 0 = never
	failUndoAdjust bool
	failPersist    bool

	// onAdjust runs before every autocommit AdjustStock; with
	// ctxSensitive set, a done context fails the call like a real store.
	onAdjust     func()
	ctxSensitive bool
}

func newMemoryRepo(atomic bool) *memoryRepo {
	return &memoryRepo{
		items:  make(map[string]*memItem),
		txs:    make(map[string]*Transaction),
		counts: make(map[string]InventoryCount),
		atomic: atomic,
	}
}

func (r *memoryRepo) seed(code string, qty int64) {
	r.items[code] = &memItem{qty: qty, active: true}
}

var errInjected = errors.New("injected storage failure")

func (r *memoryRepo) WithAtomicUnit(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if !r.atomic {
		return ErrAtomicityUnsupported
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	backup := make(map[string]memItem, len(r.items))
	for code, item := range r.items {
		backup[code] = *item
	}
	txBackup := make(map[string]*Transaction, len(r.txs))
	for id, tx := range r.txs {
		copied := *tx
		txBackup[id] = &copied
	}
	if err := fn(ctx, (*lockedMemoryTx)(r)); err != nil {
		r.items = make(map[string]*memItem, len(backup))
		for code, item := range backup {
			item := item
			r.items[code] = &item
		}
		r.txs = txBackup
		return err
	}
	return nil
}

// lockedMemoryTx runs inside WithAtomicUnit while the repo mutex is held.
type lockedMemoryTx memoryRepo

func (r *lockedMemoryTx) SnapshotForUpdate(ctx context.Context, codes []string) (Snapshot, error) {
	return (*memoryRepo)(r).snapshot(codes), nil
}

func (r *lockedMemoryTx) AdjustStock(ctx context.Context, code string, delta int64) (int64, int64, error) {
	return (*memoryRepo)(r).adjust(code, delta)
}

func (r *lockedMemoryTx) SetStock(ctx context.Context, code string, qty int64) (int64, int64, error) {
	return (*memoryRepo)(r).set(code, qty)
}

func (r *lockedMemoryTx) InsertTransaction(ctx context.Context, tx Transaction) error {
	return (*memoryRepo)(r).insertTx(tx)
}

func (r *lockedMemoryTx) MarkReversed(ctx context.Context, txID string) error {
	return (*memoryRepo)(r).markReversed(txID)
}

func (r *lockedMemoryTx) InsertCount(ctx context.Context, count InventoryCount) error {
	return (*memoryRepo)(r).insertCount(count)
}

// Autocommit surface used by the compensating path.

func (r *memoryRepo) SnapshotForUpdate(ctx context.Context, codes []string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(codes), nil
}

func (r *memoryRepo) AdjustStock(ctx context.Context, code string, delta int64) (int64, int64, error) {
	if r.onAdjust != nil {
		r.onAdjust()
	}
	if r.ctxSensitive {
		if err := ctx.Err(); err != nil {
			return 0, 0, &StorageError{Op: "adjust stock", Err: err}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adjust(code, delta)
}

func (r *memoryRepo) SetStock(ctx context.Context, code string, qty int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set(code, qty)
}

func (r *memoryRepo) InsertTransaction(ctx context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertTx(tx)
}

func (r *memoryRepo) MarkReversed(ctx context.Context, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markReversed(txID)
}

func (r *memoryRepo) InsertCount(ctx context.Context, count InventoryCount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertCount(count)
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return *tx, nil
}

func (r *memoryRepo) GetStock(ctx context.Context, code string) (StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[code]
	if !ok {
		return StockItem{}, &ValidationError{Rejections: []LineRejection{{ItemCode: code, Reason: ReasonItemNotFound}}}
	}
	return StockItem{ItemCode: code, QtyOnHand: item.qty}, nil
}

func (r *memoryRepo) InsertDiscrepancy(ctx context.Context, d Discrepancy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.CreatedAt = time.Now().UTC()
	r.discrepancies = append(r.discrepancies, d)
	return nil
}

func (r *memoryRepo) snapshot(codes []string) Snapshot {
	snap := make(Snapshot, len(codes))
	for _, code := range codes {
		if item, ok := r.items[code]; ok {
			snap[code] = SnapshotEntry{QtyOnHand: item.qty, Active: item.active}
		}
	}
	return snap
}

func (r *memoryRepo) adjust(code string, delta int64) (int64, int64, error) {
	r.adjustCalls++
	// Undo calls never hit the injected failure; failUndoAdjust covers those.
	if r.failAdjustOn > 0 && r.adjustCalls == r.failAdjustOn {
		return 0, 0, &StorageError{Op: "adjust stock", Err: errInjected}
	}
	if r.failUndoAdjust && r.adjustCalls > r.failAdjustOn && r.failAdjustOn > 0 {
		return 0, 0, &StorageError{Op: "adjust stock", Err: errInjected}
	}
	item, ok := r.items[code]
	if !ok || item.qty+delta < 0 {
		return 0, 0, ErrStockConflict
	}
	before := item.qty
	item.qty += delta
	return before, item.qty, nil
}

func (r *memoryRepo) set(code string, qty int64) (int64, int64, error) {
	item, ok := r.items[code]
	if !ok {
		return 0, 0, ErrStockConflict
	}
	before := item.qty
	item.qty = qty
	return before, qty, nil
}

func (r *memoryRepo) insertTx(tx Transaction) error {
	if r.failPersist {
		return &StorageError{Op: "insert transaction", Err: errInjected}
	}
	copied := tx
	r.txs[tx.ID] = &copied
	return nil
}

func (r *memoryRepo) markReversed(txID string) error {
	tx, ok := r.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Reversed {
		return ErrAlreadyReversed
	}
	tx.Reversed = true
	return nil
}

func (r *memoryRepo) insertCount(count InventoryCount) error {
	if r.failPersist {
		return &StorageError{Op: "insert count", Err: errInjected}
	}
	r.counts[count.ID] = count
	return nil
}

func (r *memoryRepo) qty(code string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[code].qty
}

type capturedAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *capturedAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *capturedAudit) last() shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logs[len(a.logs)-1]
}

func newTestService(repo *memoryRepo) (*Service, *capturedAudit) {
	audit := &capturedAudit{}
	svc := NewService(repo, audit, nil, nil, ServiceConfig{LockTimeout: time.Second})
	return svc, audit
}

func receipt(lines ...TransactionLine) Transaction {
	return Transaction{Direction: DirectionReceipt, Lines: lines, CreatedBy: 7}
}

func shipment(lines ...TransactionLine) Transaction {
	return Transaction{Direction: DirectionShipment, Lines: lines, CreatedBy: 7}
}

func TestApplyReverseRoundTrip(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		repo := newMemoryRepo(atomic)
		repo.seed("HH01", 50)
		repo.seed("HH02", 10)
		svc, _ := newTestService(repo)
		ctx := context.Background()

		result, err := svc.Apply(ctx, receipt(
			TransactionLine{ItemCode: "HH01", Qty: 20, UnitPrice: 1000},
			TransactionLine{ItemCode: "HH02", Qty: 5, UnitPrice: 200},
		))
		require.NoError(t, err)
		require.EqualValues(t, 70, repo.qty("HH01"))
		require.EqualValues(t, 15, repo.qty("HH02"))

		_, err = svc.Reverse(ctx, result.TransactionID, 7)
		require.NoError(t, err)
		require.EqualValues(t, 50, repo.qty("HH01"))
		require.EqualValues(t, 10, repo.qty("HH02"))
	}
}

func TestShipmentRejectionMutatesNothing(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 10)
	repo.seed("HH02", 3)
	svc, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), shipment(
		TransactionLine{ItemCode: "HH01", Qty: 4, UnitPrice: 100},
		TransactionLine{ItemCode: "HH02", Qty: 5, UnitPrice: 100},
		TransactionLine{ItemCode: "HH03", Qty: 1, UnitPrice: 100},
	))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	// Every failing line is listed, not just the first.
	require.Len(t, verr.Rejections, 2)
	require.True(t, verr.Has(ReasonInsufficientStock))
	require.True(t, verr.Has(ReasonItemNotFound))
	require.EqualValues(t, 10, repo.qty("HH01"))
	require.EqualValues(t, 3, repo.qty("HH02"))
}

func TestDuplicateLineItemRejectedBeforeMutation(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 100)
	svc, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), shipment(
		TransactionLine{ItemCode: "HH01", Qty: 1, UnitPrice: 10},
		TransactionLine{ItemCode: "HH01", Qty: 2, UnitPrice: 10},
	))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(ReasonDuplicateLineItem))
	require.EqualValues(t, 100, repo.qty("HH01"))
	require.Zero(t, repo.adjustCalls)
}

func TestConcurrentShipmentsNoDoubleSpend(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		repo := newMemoryRepo(atomic)
		repo.seed("X", 10)
		svc, _ := newTestService(repo)

		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := svc.Apply(context.Background(), shipment(TransactionLine{ItemCode: "X", Qty: 6, UnitPrice: 1}))
				results <- err
			}()
		}
		var failures []error
		for i := 0; i < 2; i++ {
			if err := <-results; err != nil {
				failures = append(failures, err)
			}
		}
		require.Len(t, failures, 1, "exactly one shipment must lose the race (atomic=%v)", atomic)
		var verr *ValidationError
		require.ErrorAs(t, failures[0], &verr)
		require.True(t, verr.Has(ReasonInsufficientStock))
		require.EqualValues(t, 4, repo.qty("X"))
	}
}

func TestReconcileSetsAbsoluteQuantity(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 70)
	repo.seed("HH02", 5)
	svc, audit := newTestService(repo)

	_, err := svc.Reconcile(context.Background(), InventoryCount{
		CreatedBy: 3,
		Lines: []CountLine{
			{ItemCode: "HH01", BookQty: 70, CountedQty: 65, Note: "damaged units"},
			{ItemCode: "HH02", BookQty: 5, CountedQty: 5},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 65, repo.qty("HH01"))
	require.EqualValues(t, 5, repo.qty("HH02"))

	log := audit.last()
	require.Equal(t, "ledger:reconcile", log.Action)
	require.EqualValues(t, int64(70), log.Before["HH01"])
	require.EqualValues(t, int64(65), log.After["HH01"])
	// Unchanged lines are no-ops and carry no before/after entry.
	require.NotContains(t, log.Before, "HH02")
}

func TestScenarioImportExportReverseReconcile(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 50)
	svc, audit := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Apply(ctx, receipt(TransactionLine{ItemCode: "HH01", Qty: 20, UnitPrice: 1000}))
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.qty("HH01"))

	out, err := svc.Apply(ctx, shipment(TransactionLine{ItemCode: "HH01", Qty: 30, UnitPrice: 1500}))
	require.NoError(t, err)
	require.EqualValues(t, 40, repo.qty("HH01"))

	_, err = svc.Reverse(ctx, out.TransactionID, 7)
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.qty("HH01"))

	_, err = svc.Reconcile(ctx, InventoryCount{Lines: []CountLine{{ItemCode: "HH01", BookQty: 70, CountedQty: 65}}})
	require.NoError(t, err)
	require.EqualValues(t, 65, repo.qty("HH01"))

	log := audit.last()
	require.EqualValues(t, int64(70), log.Before["HH01"])
	require.EqualValues(t, int64(65), log.After["HH01"])
}

func TestReverseTwiceRejected(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 50)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	result, err := svc.Apply(ctx, receipt(TransactionLine{ItemCode: "HH01", Qty: 10, UnitPrice: 100}))
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, result.TransactionID, 7)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, result.TransactionID, 7)
	require.ErrorIs(t, err, ErrAlreadyReversed)
	require.EqualValues(t, 50, repo.qty("HH01"))
}

func TestReceiptReversalGuardsNegativeStock(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 0)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	in, err := svc.Apply(ctx, receipt(TransactionLine{ItemCode: "HH01", Qty: 10, UnitPrice: 100}))
	require.NoError(t, err)
	_, err = svc.Apply(ctx, shipment(TransactionLine{ItemCode: "HH01", Qty: 8, UnitPrice: 120}))
	require.NoError(t, err)

	// Only 2 left; undoing the receipt of 10 would go negative.
	_, err = svc.Reverse(ctx, in.TransactionID, 7)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(ReasonInsufficientStock))
	require.EqualValues(t, 2, repo.qty("HH01"))
}

func TestCompensatingRollbackRestoresAppliedLines(t *testing.T) {
	repo := newMemoryRepo(false)
	repo.seed("AA", 10)
	repo.seed("BB", 10)
	repo.failAdjustOn = 2
	svc, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), receipt(
		TransactionLine{ItemCode: "AA", Qty: 5, UnitPrice: 1},
		TransactionLine{ItemCode: "BB", Qty: 5, UnitPrice: 1},
	))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	var perr *PartialFailureError
	require.False(t, errors.As(err, &perr), "clean rollback must not escalate to partial failure")
	require.EqualValues(t, 10, repo.qty("AA"))
	require.EqualValues(t, 10, repo.qty("BB"))
	require.Empty(t, repo.discrepancies)
}

func TestRollbackFailureBecomesPartialFailure(t *testing.T) {
	repo := newMemoryRepo(false)
	repo.seed("AA", 10)
	repo.seed("BB", 10)
	repo.failAdjustOn = 2
	repo.failUndoAdjust = true
	svc, audit := newTestService(repo)

	_, err := svc.Apply(context.Background(), receipt(
		TransactionLine{ItemCode: "AA", Qty: 5, UnitPrice: 1},
		TransactionLine{ItemCode: "BB", Qty: 5, UnitPrice: 1},
	))
	var perr *PartialFailureError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Applied, 1)
	require.Equal(t, "AA", perr.Applied[0].ItemCode)
	require.Len(t, perr.RollbackErrors, 1)

	require.Len(t, repo.discrepancies, 1)
	require.Equal(t, DiscrepancySourceRollback, repo.discrepancies[0].Source)
	require.Equal(t, "AA", repo.discrepancies[0].ItemCode)

	require.Equal(t, shared.AuditStatusFailed, audit.last().Status)
}

func TestPersistFailureRollsBackAllLines(t *testing.T) {
	repo := newMemoryRepo(false)
	repo.seed("AA", 10)
	repo.failPersist = true
	svc, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), receipt(TransactionLine{ItemCode: "AA", Qty: 5, UnitPrice: 1}))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.EqualValues(t, 10, repo.qty("AA"))
}

func TestInactiveItemRejected(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("ZZ", 10)
	repo.items["ZZ"].active = false
	svc, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), receipt(TransactionLine{ItemCode: "ZZ", Qty: 1, UnitPrice: 1}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.Has(ReasonItemInactive))
}

// memoryIdem implements IdempotencyPort in memory.
type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func TestApplyReplayedIdempotencyKeyRejected(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 50)
	svc := NewService(repo, &capturedAudit{}, &memoryIdem{}, nil, ServiceConfig{LockTimeout: time.Second})

	tx := receipt(TransactionLine{ItemCode: "HH01", Qty: 20, UnitPrice: 1000})
	tx.IdempotencyKey = "req-42"
	_, err := svc.Apply(context.Background(), tx)
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.qty("HH01"))

	// Same submission again: rejected, stock adjusted exactly once.
	_, err = svc.Apply(context.Background(), tx)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.EqualValues(t, 70, repo.qty("HH01"))
}

func TestFailedApplyReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo(true)
	repo.seed("HH01", 50)
	repo.failPersist = true
	svc := NewService(repo, &capturedAudit{}, &memoryIdem{}, nil, ServiceConfig{LockTimeout: time.Second})

	tx := receipt(TransactionLine{ItemCode: "HH01", Qty: 20, UnitPrice: 1000})
	tx.IdempotencyKey = "req-43"
	_, err := svc.Apply(context.Background(), tx)
	require.Error(t, err)
	require.EqualValues(t, 50, repo.qty("HH01"))

	// The key was released, so a retry of the same request may succeed.
	repo.failPersist = false
	_, err = svc.Apply(context.Background(), tx)
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.qty("HH01"))
}

func TestLockWaitTimeoutLeavesNothingApplied(t *testing.T) {
	repo := newMemoryRepo(false)
	repo.seed("HH01", 50)
	svc, _ := newTestService(repo)
	svc.lockTimeout = 30 * time.Millisecond

	release, err := svc.locks.Acquire(context.Background(), []string{"HH01"})
	require.NoError(t, err)
	defer release()

	_, err = svc.Apply(context.Background(), receipt(TransactionLine{ItemCode: "HH01", Qty: 5, UnitPrice: 1}))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 50, repo.qty("HH01"))
	require.Zero(t, repo.adjustCalls)
}

func TestCancelledApplyFullyUnwinds(t *testing.T) {
	repo := newMemoryRepo(false)
	repo.seed("AA", 10)
	repo.seed("BB", 10)
	repo.ctxSensitive = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	repo.onAdjust = func() {
		calls++
		if calls == 2 {
			cancel()
		}
	}
	svc, _ := newTestService(repo)

	_, err := svc.Apply(ctx, receipt(
		TransactionLine{ItemCode: "AA", Qty: 5, UnitPrice: 1},
		TransactionLine{ItemCode: "BB", Qty: 5, UnitPrice: 1},
	))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	require.ErrorIs(t, err, context.Canceled)

	// Rollback ran on a detached context: the first line is unwound and
	// nothing is left for manual reconciliation.
	require.EqualValues(t, 10, repo.qty("AA"))
	require.EqualValues(t, 10, repo.qty("BB"))
	require.Empty(t, repo.discrepancies)
}
