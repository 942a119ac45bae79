package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	rows          []TimelineRow
	discrepancies []Discrepancy
}

func (r *memoryRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	var filtered []TimelineRow
	for _, row := range r.rows {
		if filters.Entity != "" && row.Entity != filters.Entity {
			continue
		}
		if filters.Status != "" && row.Status != filters.Status {
			continue
		}
		filtered = append(filtered, row)
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (r *memoryRepo) ListDiscrepancies(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]Discrepancy, int, error) {
	var out []Discrepancy
	for _, d := range r.discrepancies {
		if unresolvedOnly && d.ResolvedAt != nil {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ResolveDiscrepancy(ctx context.Context, id int64) error {
	for i, d := range r.discrepancies {
		if d.ID == id && d.ResolvedAt == nil {
			now := time.Now()
			r.discrepancies[i].ResolvedAt = &now
			return nil
		}
	}
	return ErrDiscrepancyNotFound
}

func seedRows(n int) []TimelineRow {
	rows := make([]TimelineRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			At:       time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
			ActorID:  7,
			Action:   "ledger:apply:RECEIPT",
			Entity:   "stock_transaction",
			EntityID: "tx",
			Status:   "OK",
		})
	}
	return rows
}

func TestTimelinePaging(t *testing.T) {
	repo := &memoryRepo{rows: seedRows(25)}
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Timeline(ctx, TimelineFilters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, first.Rows, 20)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)

	second, err := svc.Timeline(ctx, TimelineFilters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, second.Rows, 5)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}

func TestTimelineCapsPageSize(t *testing.T) {
	repo := &memoryRepo{rows: seedRows(80)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Rows, 50)
}

func TestExportCSV(t *testing.T) {
	repo := &memoryRepo{rows: []TimelineRow{{
		At:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ActorID:  7,
		Action:   "ledger:reconcile",
		Entity:   "stock_count",
		EntityID: "c1",
		Status:   "FAILED",
		Error:    "rollback failed",
	}}}
	svc := NewService(repo)

	data, err := svc.ExportCSV(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "entity_id")
	require.Contains(t, lines[1], "ledger:reconcile")
	require.Contains(t, lines[1], "rollback failed")
}

func TestResolveDiscrepancy(t *testing.T) {
	repo := &memoryRepo{discrepancies: []Discrepancy{
		{ID: 1, ItemCode: "HH01", ExpectedQty: 50, ActualQty: 44, Source: "ROLLBACK_FAILED"},
	}}
	svc := NewService(repo)
	ctx := context.Background()

	unresolved, _, err := svc.Discrepancies(ctx, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	require.NoError(t, svc.Resolve(ctx, 1))
	unresolved, _, err = svc.Discrepancies(ctx, true, 0, 0)
	require.NoError(t, err)
	require.Empty(t, unresolved)

	require.ErrorIs(t, svc.Resolve(ctx, 1), ErrDiscrepancyNotFound)
}
