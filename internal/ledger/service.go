package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/shared"
)

// AuditPort abstracts audit logging. Recording is fire-and-forget for the
// ledger: a failed record never fails the stock operation.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts ledger operation outcomes.
type MetricsPort interface {
	ObserveLedgerOp(action, outcome string)
	ObserveDiscrepancy()
}

// IdempotencyPort dedupes client-replayed submissions by key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// LockTimeout bounds lock waits in compensating mode.
	LockTimeout time.Duration
	Metrics     MetricsPort
}

// Service is the stock ledger: the only writer of stock_items quantities.
// Document registries call Apply/Reverse/Reconcile; the ledger calls back
// into nothing.
type Service struct {
	repo        RepositoryPort
	validator   Validator
	audit       AuditPort
	idempotency IdempotencyPort
	locks       *KeyedLock
	logger      *slog.Logger
	metrics     MetricsPort
	lockTimeout time.Duration
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		locks:       NewKeyedLock(),
		logger:      logger,
		metrics:     cfg.Metrics,
		lockTimeout: timeout,
	}
}

// stockOp is one multi-item mutation: a snapshot-validated sequence of
// reversible per-item steps plus a document write, executed atomically
// when the store allows it and under compensation otherwise.
type stockOp struct {
	id       string
	action   string
	actorID  int64
	codes    []string
	validate func(Snapshot) error
	steps    []stockStep
	persist  func(context.Context, TxRepository) error
	changes  []LineChange
}

type stockStep struct {
	itemCode string
	apply    func(context.Context, TxRepository) (LineChange, error)
	undo     func(context.Context, TxRepository, LineChange) error
}

// Apply validates the transaction against a fresh snapshot and commits
// every line's quantity change together with the transaction record.
// Either everything lands or nothing does.
func (s *Service) Apply(ctx context.Context, tx Transaction) (CommitResult, error) {
	if err := s.validator.ValidateShape(tx); err != nil {
		return CommitResult{}, err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	// The key is client-supplied: two submissions carrying the same key
	// are the same request, whatever transaction ids they would mint.
	var key string
	insertedKey := false
	if s.idempotency != nil && tx.IdempotencyKey != "" {
		key = fmt.Sprintf("ledger:apply:%s", tx.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return CommitResult{}, err
		}
		insertedKey = true
	}

	op := s.applyOp(tx)
	result, err := s.execute(ctx, op)
	if err != nil && insertedKey {
		_ = s.idempotency.Delete(ctx, key)
	}
	return result, err
}

// Reverse undoes a committed transaction: receipt reversal subtracts,
// shipment reversal adds back. Document edits are a Reverse followed by a
// fresh Apply so one code path owns all stock arithmetic.
func (s *Service) Reverse(ctx context.Context, txID string, actorID int64) (CommitResult, error) {
	tx, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return CommitResult{}, err
	}
	if tx.Reversed {
		return CommitResult{}, ErrAlreadyReversed
	}
	return s.execute(ctx, s.reverseOp(tx, actorID))
}

// Reconcile applies a completed physical count: every line whose counted
// quantity differs from book is set absolutely, bypassing delta
// arithmetic. A count is ground truth, so no validator runs.
func (s *Service) Reconcile(ctx context.Context, count InventoryCount) (CommitResult, error) {
	if len(count.Lines) == 0 {
		return CommitResult{}, &ValidationError{Rejections: []LineRejection{{Reason: ReasonEmptyLines}}}
	}
	var rejections []LineRejection
	seen := make(map[string]bool, len(count.Lines))
	for _, line := range count.Lines {
		if line.ItemCode == "" || line.CountedQty < 0 {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonInvalidQuantity, Requested: line.CountedQty})
		}
		if seen[line.ItemCode] {
			rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonDuplicateLineItem})
		}
		seen[line.ItemCode] = true
	}
	if len(rejections) > 0 {
		return CommitResult{}, &ValidationError{Rejections: rejections}
	}
	if count.ID == "" {
		count.ID = uuid.NewString()
	}
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	return s.execute(ctx, s.reconcileOp(count))
}

func (s *Service) applyOp(tx Transaction) *stockOp {
	op := &stockOp{
		id:      tx.ID,
		action:  fmt.Sprintf("ledger:apply:%s", tx.Direction),
		actorID: tx.CreatedBy,
		codes:   ItemCodes(tx.Lines),
		validate: func(snap Snapshot) error {
			return s.validator.Validate(tx, snap)
		},
		persist: func(ctx context.Context, repo TxRepository) error {
			return repo.InsertTransaction(ctx, tx)
		},
	}
	for _, line := range tx.Lines {
		op.steps = append(op.steps, adjustStep(line.ItemCode, signedDelta(tx.Direction, line.Qty)))
	}
	return op
}

func (s *Service) reverseOp(tx Transaction, actorID int64) *stockOp {
	op := &stockOp{
		id:      tx.ID,
		action:  fmt.Sprintf("ledger:reverse:%s", tx.Direction),
		actorID: actorID,
		codes:   ItemCodes(tx.Lines),
		persist: func(ctx context.Context, repo TxRepository) error {
			return repo.MarkReversed(ctx, tx.ID)
		},
	}
	if tx.Direction == DirectionReceipt {
		// Undoing a receipt drains stock; it must not go negative.
		op.validate = func(snap Snapshot) error {
			var rejections []LineRejection
			for _, line := range tx.Lines {
				entry, ok := snap[line.ItemCode]
				if !ok {
					rejections = append(rejections, LineRejection{ItemCode: line.ItemCode, Reason: ReasonItemNotFound, Requested: line.Qty})
					continue
				}
				if entry.QtyOnHand < line.Qty {
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
	}
	for _, line := range tx.Lines {
		op.steps = append(op.steps, adjustStep(line.ItemCode, -signedDelta(tx.Direction, line.Qty)))
	}
	return op
}

func (s *Service) reconcileOp(count InventoryCount) *stockOp {
	op := &stockOp{
		id:      count.ID,
		action:  "ledger:reconcile",
		actorID: count.CreatedBy,
		persist: func(ctx context.Context, repo TxRepository) error {
			return repo.InsertCount(ctx, count)
		},
	}
	var changed []TransactionLine
	for _, line := range count.Lines {
		if line.Delta() == 0 {
			continue
		}
		changed = append(changed, TransactionLine{ItemCode: line.ItemCode})
		op.steps = append(op.steps, setStep(line.ItemCode, line.CountedQty))
	}
	op.codes = ItemCodes(changed)
	return op
}

func adjustStep(code string, delta int64) stockStep {
	return stockStep{
		itemCode: code,
		apply: func(ctx context.Context, repo TxRepository) (LineChange, error) {
			before, after, err := repo.AdjustStock(ctx, code, delta)
			if err != nil {
				if errors.Is(err, ErrStockConflict) {
					// Guard refused the delta: another operation drained
					// the item between snapshot and write.
					return LineChange{}, &ValidationError{Rejections: []LineRejection{{
						ItemCode:  code,
						Reason:    ReasonInsufficientStock,
						Requested: -delta,
					}}}
				}
				return LineChange{}, err
			}
			return LineChange{ItemCode: code, QtyBefore: before, QtyAfter: after}, nil
		},
		undo: func(ctx context.Context, repo TxRepository, change LineChange) error {
			_, _, err := repo.AdjustStock(ctx, code, -delta)
			return err
		},
	}
}

func setStep(code string, qty int64) stockStep {
	return stockStep{
		itemCode: code,
		apply: func(ctx context.Context, repo TxRepository) (LineChange, error) {
			before, after, err := repo.SetStock(ctx, code, qty)
			if err != nil {
				if errors.Is(err, ErrStockConflict) {
					return LineChange{}, &ValidationError{Rejections: []LineRejection{{ItemCode: code, Reason: ReasonItemNotFound}}}
				}
				return LineChange{}, err
			}
			return LineChange{ItemCode: code, QtyBefore: before, QtyAfter: after}, nil
		},
		undo: func(ctx context.Context, repo TxRepository, change LineChange) error {
			_, _, err := repo.SetStock(ctx, code, change.QtyBefore)
			return err
		},
	}
}

func signedDelta(direction Direction, qty int64) int64 {
	if direction == DirectionShipment {
		return -qty
	}
	return qty
}

// execute tries the store's atomic unit first and falls back to
// compensating mode when the store cannot guarantee atomicity.
func (s *Service) execute(ctx context.Context, op *stockOp) (CommitResult, error) {
	err := s.repo.WithAtomicUnit(ctx, func(ctx context.Context, repo TxRepository) error {
		return s.run(ctx, repo, op, nil)
	})
	if errors.Is(err, ErrAtomicityUnsupported) {
		err = s.executeCompensating(ctx, op)
	}
	s.recordAudit(ctx, op, err)
	s.observeOutcome(op.action, err)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{TransactionID: op.id, Changes: op.changes, CommittedAt: time.Now().UTC()}, nil
}

func (s *Service) observeOutcome(action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	var verr *ValidationError
	var perr *PartialFailureError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		outcome = "rejected"
	case errors.As(err, &perr):
		outcome = "partial_failure"
	default:
		outcome = "failed"
	}
	s.metrics.ObserveLedgerOp(action, outcome)
}

func (s *Service) run(ctx context.Context, repo TxRepository, op *stockOp, comp *compensation) error {
	op.changes = op.changes[:0]
	snap, err := repo.SnapshotForUpdate(ctx, op.codes)
	if err != nil {
		return err
	}
	if op.validate != nil {
		if err := op.validate(snap); err != nil {
			return err
		}
	}
	for _, step := range op.steps {
		step := step
		change, err := step.apply(ctx, repo)
		if err != nil {
			return err
		}
		op.changes = append(op.changes, change)
		if comp != nil {
			comp.push(change, func(ctx context.Context) error {
				return step.undo(ctx, repo, change)
			})
		}
	}
	return op.persist(ctx, repo)
}

// executeCompensating serialises the operation with in-process per-item
// locks (taken in sorted order), applies each step in autocommit mode and
// rolls the applied steps back on failure. A rollback failure becomes a
// persisted PartialFailureError, never a silent ignore.
func (s *Service) executeCompensating(ctx context.Context, op *stockOp) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, op.codes)
	if err != nil {
		return &StorageError{Op: "acquire item locks", Err: err}
	}
	defer release()

	comp := &compensation{}
	runErr := s.run(ctx, s.repo, op, comp)
	if runErr == nil {
		return nil
	}

	// Detach rollback from the caller's context: a cancelled request must
	// still be fully unwound.
	rbCtx, rbCancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer rbCancel()
	stuck, rollbackErrs := comp.rollback(rbCtx)
	if len(rollbackErrs) == 0 {
		return runErr
	}

	partial := &PartialFailureError{
		TransactionID:  op.id,
		Applied:        stuck,
		Cause:          runErr,
		RollbackErrors: rollbackErrs,
	}
	for _, change := range stuck {
		d := Discrepancy{
			TransactionID: op.id,
			ItemCode:      change.ItemCode,
			ExpectedQty:   change.QtyBefore,
			ActualQty:     change.QtyAfter,
			Source:        DiscrepancySourceRollback,
			Detail:        fmt.Sprintf("%s failed and rollback did not restore the line: %v", op.action, runErr),
		}
		if s.metrics != nil {
			s.metrics.ObserveDiscrepancy()
		}
		if err := s.repo.InsertDiscrepancy(rbCtx, d); err != nil {
			s.logger.Error("persist discrepancy failed",
				slog.String("transaction_id", op.id),
				slog.String("item_code", change.ItemCode),
				slog.Any("error", err))
		}
	}
	s.logger.Error("ledger partial failure",
		slog.String("transaction_id", op.id),
		slog.String("action", op.action),
		slog.Int("stuck_lines", len(stuck)),
		slog.Any("cause", runErr))
	return partial
}

func (s *Service) recordAudit(ctx context.Context, op *stockOp, opErr error) {
	if s.audit == nil {
		return
	}
	status := shared.AuditStatusOK
	errText := ""
	if opErr != nil {
		status = shared.AuditStatusFailed
		errText = opErr.Error()
	}
	before := make(map[string]any, len(op.changes))
	after := make(map[string]any, len(op.changes))
	for _, change := range op.changes {
		before[change.ItemCode] = change.QtyBefore
		after[change.ItemCode] = change.QtyAfter
	}
	log := shared.AuditLog{
		ActorID:  op.actorID,
		Action:   op.action,
		Entity:   "stock_transaction",
		EntityID: op.id,
		Status:   status,
		Error:    errText,
		Before:   before,
		After:    after,
		At:       time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", op.action),
			slog.String("entity_id", op.id),
			slog.Any("error", err))
	}
}

// Stock returns the current on-hand quantity of one item.
func (s *Service) Stock(ctx context.Context, itemCode string) (StockItem, error) {
	return s.repo.GetStock(ctx, itemCode)
}

// Transaction loads a committed transaction with its lines.
func (s *Service) Transaction(ctx context.Context, id string) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}
