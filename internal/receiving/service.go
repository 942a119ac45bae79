package receiving

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/ledger"
)

// LedgerPort is the slice of the stock ledger the registry needs. All
// stock arithmetic happens behind it.
type LedgerPort interface {
	Apply(ctx context.Context, tx ledger.Transaction) (ledger.CommitResult, error)
	Reverse(ctx context.Context, txID string, actorID int64) (ledger.CommitResult, error)
}

// Service manages import slips. The slip is the document; the quantity
// movement is the ledger's.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	logger *slog.Logger
}

func NewService(repo RepositoryPort, ledgerPort LedgerPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerPort, logger: logger}
}

func toLedgerLines(lines []SlipLineRequest) []ledger.TransactionLine {
	out := make([]ledger.TransactionLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, ledger.TransactionLine{ItemCode: l.ItemCode, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	return out
}

func toSlipLines(lines []SlipLineRequest) []SlipLine {
	out := make([]SlipLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, SlipLine{ItemCode: l.ItemCode, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	return out
}

// Create posts a goods receipt: the ledger commits the stock increase
// first, then the slip is written referencing the committed transaction.
// If the slip write fails the movement is reversed so stock stays true.
func (s *Service) Create(ctx context.Context, req CreateSlipRequest, actorID int64) (ImportSlip, error) {
	slipID := uuid.NewString()
	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction:      ledger.DirectionReceipt,
		RefModule:      "receiving",
		RefID:          slipID,
		Lines:          toLedgerLines(req.Lines),
		CreatedBy:      actorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return ImportSlip{}, err
	}

	slip := ImportSlip{
		ID:            slipID,
		SupplierID:    req.SupplierID,
		TransactionID: res.TransactionID,
		Status:        StatusPosted,
		Note:          req.Note,
		Lines:         toSlipLines(req.Lines),
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, slip); err != nil {
		if _, revErr := s.ledger.Reverse(ctx, res.TransactionID, actorID); revErr != nil {
			s.logger.Error("orphaned receipt transaction after slip write failure",
				slog.String("transaction_id", res.TransactionID), slog.Any("error", revErr))
		}
		return ImportSlip{}, fmt.Errorf("receiving: persist slip: %w", err)
	}
	return slip, nil
}

// Update edits a posted slip by reversing the old movement and applying
// the new one. If the new movement is rejected the old one is re-applied
// so the slip's stock effect is unchanged.
func (s *Service) Update(ctx context.Context, id string, req UpdateSlipRequest, actorID int64) (ImportSlip, error) {
	slip, err := s.repo.Get(ctx, id)
	if err != nil {
		return ImportSlip{}, err
	}
	if slip.Status != StatusPosted {
		return ImportSlip{}, ErrNotEditable
	}

	if _, err := s.ledger.Reverse(ctx, slip.TransactionID, actorID); err != nil {
		return ImportSlip{}, fmt.Errorf("receiving: reverse old movement: %w", err)
	}

	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction: ledger.DirectionReceipt,
		RefModule: "receiving",
		RefID:     slip.ID,
		Lines:     toLedgerLines(req.Lines),
		CreatedBy: actorID,
	})
	if err != nil {
		s.restore(ctx, slip, actorID)
		return ImportSlip{}, err
	}

	prev := slip
	slip.SupplierID = req.SupplierID
	slip.TransactionID = res.TransactionID
	slip.Note = req.Note
	slip.Lines = toSlipLines(req.Lines)
	if err := s.repo.Replace(ctx, slip); err != nil {
		// The document write failed after the new movement committed:
		// reverse it and put the old movement back, as in Create.
		if _, revErr := s.ledger.Reverse(ctx, res.TransactionID, actorID); revErr != nil {
			s.logger.Error("orphaned receipt transaction after edited slip write failure",
				slog.String("transaction_id", res.TransactionID), slog.Any("error", revErr))
		}
		s.restore(ctx, prev, actorID)
		return ImportSlip{}, fmt.Errorf("receiving: persist edited slip: %w", err)
	}
	return slip, nil
}

// restore re-applies a slip's previous lines after a failed edit.
func (s *Service) restore(ctx context.Context, slip ImportSlip, actorID int64) {
	lines := make([]ledger.TransactionLine, 0, len(slip.Lines))
	for _, l := range slip.Lines {
		lines = append(lines, ledger.TransactionLine{ItemCode: l.ItemCode, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction: ledger.DirectionReceipt,
		RefModule: "receiving",
		RefID:     slip.ID,
		Lines:     lines,
		CreatedBy: actorID,
	})
	if err != nil {
		s.logger.Error("failed to restore receipt after rejected edit",
			slog.String("slip_id", slip.ID), slog.Any("error", err))
		return
	}
	slip.TransactionID = res.TransactionID
	if err := s.repo.Replace(ctx, slip); err != nil {
		s.logger.Error("failed to relink restored receipt",
			slog.String("slip_id", slip.ID), slog.Any("error", err))
	}
}

// Cancel reverses a slip's movement and marks the document cancelled.
// The slip itself is never deleted.
func (s *Service) Cancel(ctx context.Context, id string, actorID int64) (ImportSlip, error) {
	slip, err := s.repo.Get(ctx, id)
	if err != nil {
		return ImportSlip{}, err
	}
	if slip.Status != StatusPosted {
		return ImportSlip{}, ErrNotEditable
	}
	if _, err := s.ledger.Reverse(ctx, slip.TransactionID, actorID); err != nil {
		return ImportSlip{}, err
	}
	if err := s.repo.SetStatus(ctx, id, StatusCancelled); err != nil {
		return ImportSlip{}, err
	}
	slip.Status = StatusCancelled
	return slip, nil
}

func (s *Service) Get(ctx context.Context, id string) (ImportSlip, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListSlipsRequest) ([]ImportSlip, int, error) {
	return s.repo.List(ctx, req)
}
