package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrity replays the transaction history against on-hand
	// quantities and records any drift.
	TaskStockIntegrity = "stock:integrity_scan"
	// TaskIdempotencyCleanup prunes settled idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskAuditRetention prunes audit records past the retention window.
	TaskAuditRetention = "maintenance:audit_retention"
)

// StockIntegrityPayload scopes an integrity scan. Empty ItemCodes means
// scan everything.
type StockIntegrityPayload struct {
	ItemCodes []string `json:"item_codes,omitempty"`
}

// NewStockIntegrityTask constructs an integrity-scan task.
func NewStockIntegrityTask(payload StockIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrity, data), nil
}

// RetentionPayload bounds a cleanup task.
type RetentionPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewIdempotencyCleanupTask constructs an idempotency cleanup task.
func NewIdempotencyCleanupTask(payload RetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewAuditRetentionTask constructs an audit retention task.
func NewAuditRetentionTask(payload RetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
