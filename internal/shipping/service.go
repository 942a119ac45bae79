package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/ledger"
)

// LedgerPort is the slice of the stock ledger the registry needs.
type LedgerPort interface {
	Apply(ctx context.Context, tx ledger.Transaction) (ledger.CommitResult, error)
	Reverse(ctx context.Context, txID string, actorID int64) (ledger.CommitResult, error)
}

// Service manages export slips. Stock sufficiency is the ledger's call:
// an oversell comes back as a ValidationError with per-line rejections.
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

// Create posts a shipment. The ledger rejects the whole slip if any line
// oversells, so a posted slip always had sufficient stock at commit time.
func (s *Service) Create(ctx context.Context, req CreateSlipRequest, actorID int64) (ExportSlip, error) {
	slipID := uuid.NewString()
	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction:      ledger.DirectionShipment,
		RefModule:      "shipping",
		RefID:          slipID,
		Lines:          toLedgerLines(req.Lines),
		CreatedBy:      actorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return ExportSlip{}, err
	}

	slip := ExportSlip{
		ID:            slipID,
		CustomerID:    req.CustomerID,
		InvoiceNo:     req.InvoiceNo,
		TransactionID: res.TransactionID,
		Status:        StatusPosted,
		Note:          req.Note,
		Lines:         toSlipLines(req.Lines),
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, slip); err != nil {
		if _, revErr := s.ledger.Reverse(ctx, res.TransactionID, actorID); revErr != nil {
			s.logger.Error("orphaned shipment transaction after slip write failure",
				slog.String("transaction_id", res.TransactionID), slog.Any("error", revErr))
		}
		return ExportSlip{}, fmt.Errorf("shipping: persist slip: %w", err)
	}
	return slip, nil
}

// Update reverses the old shipment and applies the new one. Reversing
// first returns the old quantities to stock so the new lines validate
// against the true availability.
func (s *Service) Update(ctx context.Context, id string, req UpdateSlipRequest, actorID int64) (ExportSlip, error) {
	slip, err := s.repo.Get(ctx, id)
	if err != nil {
		return ExportSlip{}, err
	}
	if slip.Status != StatusPosted {
		return ExportSlip{}, ErrNotEditable
	}

	if _, err := s.ledger.Reverse(ctx, slip.TransactionID, actorID); err != nil {
		return ExportSlip{}, fmt.Errorf("shipping: reverse old movement: %w", err)
	}

	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction: ledger.DirectionShipment,
		RefModule: "shipping",
		RefID:     slip.ID,
		Lines:     toLedgerLines(req.Lines),
		CreatedBy: actorID,
	})
	if err != nil {
		s.restore(ctx, slip, actorID)
		return ExportSlip{}, err
	}

	prev := slip
	slip.CustomerID = req.CustomerID
	slip.InvoiceNo = req.InvoiceNo
	slip.TransactionID = res.TransactionID
	slip.Note = req.Note
	slip.Lines = toSlipLines(req.Lines)
	if err := s.repo.Replace(ctx, slip); err != nil {
		// The document write failed after the new movement committed:
		// reverse it and put the old movement back, as in Create.
		if _, revErr := s.ledger.Reverse(ctx, res.TransactionID, actorID); revErr != nil {
			s.logger.Error("orphaned shipment transaction after edited slip write failure",
				slog.String("transaction_id", res.TransactionID), slog.Any("error", revErr))
		}
		s.restore(ctx, prev, actorID)
		return ExportSlip{}, fmt.Errorf("shipping: persist edited slip: %w", err)
	}
	return slip, nil
}

func (s *Service) restore(ctx context.Context, slip ExportSlip, actorID int64) {
	lines := make([]ledger.TransactionLine, 0, len(slip.Lines))
	for _, l := range slip.Lines {
		lines = append(lines, ledger.TransactionLine{ItemCode: l.ItemCode, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	res, err := s.ledger.Apply(ctx, ledger.Transaction{
		Direction: ledger.DirectionShipment,
		RefModule: "shipping",
		RefID:     slip.ID,
		Lines:     lines,
		CreatedBy: actorID,
	})
	if err != nil {
		s.logger.Error("failed to restore shipment after rejected edit",
			slog.String("slip_id", slip.ID), slog.Any("error", err))
		return
	}
	slip.TransactionID = res.TransactionID
	if err := s.repo.Replace(ctx, slip); err != nil {
		s.logger.Error("failed to relink restored shipment",
			slog.String("slip_id", slip.ID), slog.Any("error", err))
	}
}

// Cancel reverses a slip's movement and marks the document cancelled.
func (s *Service) Cancel(ctx context.Context, id string, actorID int64) (ExportSlip, error) {
	slip, err := s.repo.Get(ctx, id)
	if err != nil {
		return ExportSlip{}, err
	}
	if slip.Status != StatusPosted {
		return ExportSlip{}, ErrNotEditable
	}
	if _, err := s.ledger.Reverse(ctx, slip.TransactionID, actorID); err != nil {
		return ExportSlip{}, err
	}
	if err := s.repo.SetStatus(ctx, id, StatusCancelled); err != nil {
		return ExportSlip{}, err
	}
	slip.Status = StatusCancelled
	return slip, nil
}

func (s *Service) Get(ctx context.Context, id string) (ExportSlip, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListSlipsRequest) ([]ExportSlip, int, error) {
	return s.repo.List(ctx, req)
}
