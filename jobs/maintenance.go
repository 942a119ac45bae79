package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
)

// Maintenance handles the recurring cleanup tasks.
type Maintenance struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewMaintenance(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{pool: pool, logger: logger, metrics: metrics}
}

func maxAge(payload RetentionPayload, fallback time.Duration) time.Duration {
	if payload.MaxAgeHours <= 0 {
		return fallback
	}
	return time.Duration(payload.MaxAgeHours) * time.Hour
}

// HandleIdempotencyCleanup processes TaskIdempotencyCleanup tasks. Keys
// older than the window can no longer collide with a retry in flight.
func (m *Maintenance) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	var payload RetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("idempotency_cleanup")
	return tracker.End(m.cleanupIdempotency(ctx, maxAge(payload, 24*time.Hour)))
}

func (m *Maintenance) cleanupIdempotency(ctx context.Context, window time.Duration) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < NOW() - $1::interval`,
		window.String())
	if err != nil {
		return fmt.Errorf("idempotency cleanup: %w", err)
	}
	m.logger.Info("idempotency keys pruned", slog.Int64("deleted", tag.RowsAffected()))
	return nil
}

// HandleAuditRetention processes TaskAuditRetention tasks. Sessions past
// expiry go with the audit rows; the warehouse keeps two years of history
// by default.
func (m *Maintenance) HandleAuditRetention(ctx context.Context, t *asynq.Task) error {
	var payload RetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("audit_retention")
	return tracker.End(m.pruneAudit(ctx, maxAge(payload, 2*365*24*time.Hour)))
}

func (m *Maintenance) pruneAudit(ctx context.Context, window time.Duration) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < NOW() - $1::interval`,
		window.String())
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	if _, err := m.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW() - INTERVAL '7 days'`); err != nil {
		return fmt.Errorf("session cleanup: %w", err)
	}
	m.logger.Info("audit rows pruned", slog.Int64("deleted", tag.RowsAffected()))
	return nil
}
