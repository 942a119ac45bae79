package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
)

var ErrDiscrepancyNotFound = errors.New("audit: discrepancy not found or already resolved")

// Service coordinates audit timeline and discrepancy reads.
type Service struct {
	repo RepositoryPort
}

func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit records. A page of pageSize+1 rows
// is fetched so HasNext never needs a count query.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// ExportCSV renders the filtered timeline as CSV, capped at exportLimit
// rows to keep the response bounded.
const exportLimit = 10000

func (s *Service) ExportCSV(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	rows, err := s.repo.TimelineWindow(ctx, filters, exportLimit, 0)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"at", "actor_id", "action", "entity", "entity_id", "status", "error"}); err != nil {
		return nil, fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.At.Format("2006-01-02 15:04:05"),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
			row.Status,
			row.Error,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("audit: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Discrepancies lists persisted stock discrepancies, optionally only the
// unresolved ones.
func (s *Service) Discrepancies(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]Discrepancy, int, error) {
	return s.repo.ListDiscrepancies(ctx, unresolvedOnly, limit, offset)
}

// Resolve marks a discrepancy as handled after manual correction.
func (s *Service) Resolve(ctx context.Context, id int64) error {
	return s.repo.ResolveDiscrepancy(ctx, id)
}
