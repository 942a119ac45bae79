package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditStatus marks whether the audited operation succeeded.
type AuditStatus string

const (
	AuditStatusOK     AuditStatus = "OK"
	AuditStatusFailed AuditStatus = "FAILED"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Status   AuditStatus
	Error    string
	Before   map[string]any
	After    map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs. Recording is best effort:
// callers must treat failures as operational noise, not business errors.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Status == "" {
		log.Status = AuditStatusOK
	}
	beforeJSON, err := json.Marshal(log.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(log.After)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, status, error, before, after, occurred_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, string(log.Status), log.Error, beforeJSON, afterJSON, at)
	return err
}
