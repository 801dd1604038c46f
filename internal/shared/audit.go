package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuditLog is one row of audit_logs. GroupID and Period are set for actions
// scoped to a consolidation group period so the trail can be filtered by them.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	GroupID  int64
	Period   string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory audit fields.
func (log AuditLog) Validate() error {
	var missing []string
	if strings.TrimSpace(log.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(log.Entity) == "" {
		missing = append(missing, "entity")
	}
	if strings.TrimSpace(log.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit log requires %s", strings.Join(missing, ", "))
	}
	if log.Period != "" {
		if _, err := ParsePeriod(log.Period); err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
	}
	return nil
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	db execer
}

// NewAuditLogger writes through a pool or a transaction.
func NewAuditLogger(db execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the entry. An empty actor is stored as SystemActor and a
// zero timestamp as the database clock.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(log.Actor) == "" {
		log.Actor = SystemActor
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit log meta: %w", err)
	}
	var (
		groupID *int64
		period  *string
		at      *time.Time
	)
	if log.GroupID > 0 {
		groupID = &log.GroupID
	}
	if log.Period != "" {
		period = &log.Period
	}
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO audit_logs (actor, action, entity, entity_id, group_id, period, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		log.Actor, log.Action, log.Entity, log.EntityID, groupID, period, meta, at)
	return err
}
