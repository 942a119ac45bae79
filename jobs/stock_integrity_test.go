package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.scan(dest...)
}

// scriptedStore serves QueryRow results in order and counts writes.
type scriptedStore struct {
	rows  []fakeRow
	calls int
	execs int
}

func (s *scriptedStore) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if s.calls >= len(s.rows) {
		return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
	row := s.rows[s.calls]
	s.calls++
	return row
}

func (s *scriptedStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (s *scriptedStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execs++
	return pgconn.CommandTag{}, nil
}

func int64Row(v int64) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int64) = v
		return nil
	}}
}

func TestCheckItemStopsOnCountQueryFailure(t *testing.T) {
	store := &scriptedStore{rows: []fakeRow{
		{scan: func(...any) error { return errors.New("connection timeout") }},
	}}
	scanner := NewIntegrityScanner(store, nil, nil)

	err := scanner.checkItem(context.Background(), "HH01")
	require.Error(t, err)
	require.Contains(t, err.Error(), "latest count")

	// The failed count read must not be replayed as a zero base.
	require.Equal(t, 1, store.calls)
	require.Zero(t, store.execs)
}

func TestCheckItemTreatsMissingCountAsZeroBase(t *testing.T) {
	store := &scriptedStore{rows: []fakeRow{
		{scan: func(...any) error { return pgx.ErrNoRows }},
		int64Row(5), // movement sum
		int64Row(5), // qty_on_hand
	}}
	scanner := NewIntegrityScanner(store, nil, nil)

	require.NoError(t, scanner.checkItem(context.Background(), "HH01"))
	require.Equal(t, 3, store.calls)
	require.Zero(t, store.execs)
}

func TestCheckItemRecordsDrift(t *testing.T) {
	store := &scriptedStore{rows: []fakeRow{
		{scan: func(...any) error { return pgx.ErrNoRows }},
		int64Row(5), // movement sum
		int64Row(7), // qty_on_hand disagrees
	}}
	scanner := NewIntegrityScanner(store, nil, nil)

	require.NoError(t, scanner.checkItem(context.Background(), "HH01"))
	require.Equal(t, 1, store.execs)
}
