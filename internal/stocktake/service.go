package stocktake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/ledger"
)

// LedgerPort is the slice of the stock ledger the registry needs: book
// quantities when opening a sheet, reconcile when completing it.
type LedgerPort interface {
	Stock(ctx context.Context, itemCode string) (ledger.StockItem, error)
	Reconcile(ctx context.Context, count ledger.InventoryCount) (ledger.CommitResult, error)
}

// Service manages count sheets. A sheet snapshots book quantities when
// opened; completing it makes the counted quantities the new truth.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
}

func NewService(repo RepositoryPort, ledgerPort LedgerPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort}
}

// Create opens a draft sheet for the given items, capturing each item's
// current book quantity.
func (s *Service) Create(ctx context.Context, req CreateSheetRequest, actorID int64) (CountSheet, error) {
	sheet := CountSheet{
		ID:        uuid.NewString(),
		Status:    StatusDraft,
		Note:      req.Note,
		CreatedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	seen := make(map[string]bool, len(req.ItemCodes))
	for _, code := range req.ItemCodes {
		if seen[code] {
			continue
		}
		seen[code] = true
		item, err := s.ledger.Stock(ctx, code)
		if err != nil {
			return CountSheet{}, fmt.Errorf("stocktake: book quantity for %s: %w", code, err)
		}
		sheet.Lines = append(sheet.Lines, SheetLine{ItemCode: code, BookQty: item.QtyOnHand})
	}
	if err := s.repo.Create(ctx, sheet); err != nil {
		return CountSheet{}, err
	}
	return sheet, nil
}

// RecordCounts fills in counted quantities on a draft sheet. Lines not
// mentioned keep their previous counted value.
func (s *Service) RecordCounts(ctx context.Context, id string, req RecordCountRequest) (CountSheet, error) {
	sheet, err := s.repo.Get(ctx, id)
	if err != nil {
		return CountSheet{}, err
	}
	if sheet.Status != StatusDraft {
		return CountSheet{}, ErrNotDraft
	}

	byCode := make(map[string]int, len(sheet.Lines))
	for i, l := range sheet.Lines {
		byCode[l.ItemCode] = i
	}
	for _, rec := range req.Lines {
		i, ok := byCode[rec.ItemCode]
		if !ok {
			return CountSheet{}, fmt.Errorf("stocktake: item %s is not on sheet %s", rec.ItemCode, id)
		}
		counted := rec.CountedQty
		sheet.Lines[i].CountedQty = &counted
		if rec.Note != nil {
			sheet.Lines[i].Note = rec.Note
		}
	}
	if err := s.repo.UpdateLines(ctx, id, sheet.Lines); err != nil {
		return CountSheet{}, err
	}
	return sheet, nil
}

// Complete reconciles the ledger with the sheet's counted quantities and
// freezes the sheet. Every line must have been counted.
func (s *Service) Complete(ctx context.Context, id string, actorID int64) (CountSheet, error) {
	sheet, err := s.repo.Get(ctx, id)
	if err != nil {
		return CountSheet{}, err
	}
	if sheet.Status != StatusDraft {
		return CountSheet{}, ErrNotDraft
	}
	if len(sheet.Lines) == 0 {
		return CountSheet{}, ErrNoLines
	}

	count := ledger.InventoryCount{
		ID:        uuid.NewString(),
		CreatedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	for _, l := range sheet.Lines {
		if l.CountedQty == nil {
			return CountSheet{}, fmt.Errorf("stocktake: item %s has no counted quantity", l.ItemCode)
		}
		note := ""
		if l.Note != nil {
			note = *l.Note
		}
		count.Lines = append(count.Lines, ledger.CountLine{
			ItemCode:   l.ItemCode,
			BookQty:    l.BookQty,
			CountedQty: *l.CountedQty,
			Note:       note,
		})
	}

	if _, err := s.ledger.Reconcile(ctx, count); err != nil {
		return CountSheet{}, err
	}
	if err := s.repo.Complete(ctx, id, count.ID); err != nil {
		return CountSheet{}, err
	}
	sheet.Status = StatusCompleted
	sheet.CountID = &count.ID
	return sheet, nil
}

// Cancel discards a draft sheet. Completed sheets are immutable.
func (s *Service) Cancel(ctx context.Context, id string) (CountSheet, error) {
	sheet, err := s.repo.Get(ctx, id)
	if err != nil {
		return CountSheet{}, err
	}
	if sheet.Status != StatusDraft {
		return CountSheet{}, ErrNotDraft
	}
	if err := s.repo.SetStatus(ctx, id, StatusCancelled); err != nil {
		return CountSheet{}, err
	}
	sheet.Status = StatusCancelled
	return sheet, nil
}

func (s *Service) Get(ctx context.Context, id string) (CountSheet, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListSheetsRequest) ([]CountSheet, int, error) {
	return s.repo.List(ctx, req)
}
