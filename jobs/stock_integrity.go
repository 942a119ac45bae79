package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
)

// scanConcurrency bounds parallel per-item checks so the scan never
// starves the pool.
const scanConcurrency = 8

// scanStore is the slice of the pgx pool the scanner queries.
type scanStore interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IntegrityScanner recomputes every item's expected quantity from the
// transaction history and the latest physical count, and records a
// discrepancy for any drift from qty_on_hand. Drift means a partial
// failure slipped past its rollback or someone touched the table by hand.
type IntegrityScanner struct {
	pool    scanStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewIntegrityScanner(pool scanStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityScanner{pool: pool, logger: logger, metrics: metrics}
}

// HandleTask processes TaskStockIntegrity tasks.
func (s *IntegrityScanner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload StockIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := s.metrics.Track("stock_integrity")
	return tracker.End(s.Scan(ctx, payload.ItemCodes))
}

// Scan checks the given items, or all items when codes is empty.
func (s *IntegrityScanner) Scan(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		var err error
		codes, err = s.allItemCodes(ctx)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, code := range codes {
		g.Go(func() error {
			return s.checkItem(ctx, code)
		})
	}
	return g.Wait()
}

func (s *IntegrityScanner) allItemCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT item_code FROM stock_items ORDER BY item_code`)
	if err != nil {
		return nil, fmt.Errorf("integrity scan: list items: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("integrity scan: scan item code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// checkItem recomputes one item's expected quantity: the latest count's
// counted value (or zero) plus all non-reversed movements since.
func (s *IntegrityScanner) checkItem(ctx context.Context, code string) error {
	var baseQty int64
	var baseAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT cl.counted_qty, c.created_at
FROM stock_count_lines cl JOIN stock_counts c ON c.id = cl.count_id
WHERE cl.item_code = $1
ORDER BY c.created_at DESC LIMIT 1`, code).Scan(&baseQty, &baseAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("integrity scan: latest count for %s: %w", code, err)
	}
	// ErrNoRows means no count yet: replay from a zero base.

	var movement int64
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN t.direction = 'RECEIPT' THEN l.qty ELSE -l.qty END), 0)
FROM stock_transaction_lines l JOIN stock_transactions t ON t.id = l.transaction_id
WHERE l.item_code = $1 AND NOT t.reversed AND t.created_at > $2`, code, baseAt).Scan(&movement)
	if err != nil {
		return fmt.Errorf("integrity scan: movements for %s: %w", code, err)
	}

	var onHand int64
	if err := s.pool.QueryRow(ctx, `SELECT qty_on_hand FROM stock_items WHERE item_code=$1`, code).Scan(&onHand); err != nil {
		return fmt.Errorf("integrity scan: on-hand for %s: %w", code, err)
	}

	expected := baseQty + movement
	if expected == onHand {
		return nil
	}

	s.logger.Warn("stock integrity drift",
		slog.String("item_code", code),
		slog.Int64("expected", expected),
		slog.Int64("on_hand", onHand))
	s.metrics.AddDiscrepancies(1)

	_, err = s.pool.Exec(ctx, `INSERT INTO stock_discrepancies (item_code, expected_qty, actual_qty, source, detail, created_at)
SELECT $1, $2, $3, 'INTEGRITY_SCAN', $4, NOW()
WHERE NOT EXISTS (
	SELECT 1 FROM stock_discrepancies
	WHERE item_code = $1 AND source = 'INTEGRITY_SCAN' AND resolved_at IS NULL
)`, code, expected, onHand, fmt.Sprintf("ledger replay expected %d, on-hand %d", expected, onHand))
	if err != nil {
		return fmt.Errorf("integrity scan: record discrepancy for %s: %w", code, err)
	}
	return nil
}
