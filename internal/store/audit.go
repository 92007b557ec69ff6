// ABOUTME: Audit log entity and store methods for moderation actions
// ABOUTME: Records who banned or unbanned which user, with the remark given

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditBanUser   AuditAction = "ban_user"
	AuditUnbanUser AuditAction = "unban_user"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string         // UUID v4
	Actor     string         // who performed the action
	Action    AuditAction    // what action was performed
	TargetID  string         // user the action applied to
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context, stored as JSON
}

// AuditFilter narrows ListAuditLog. Empty fields match everything.
type AuditFilter struct {
	TargetID string
	Action   AuditAction
	Limit    int // default 100, max 1000
}

// AuditLog is implemented by every store
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// prepareAuditEntry fills ID and Timestamp when unset and encodes Detail.
func prepareAuditEntry(e *AuditEntry) (*string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(e.Detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	str := string(data)
	return &str, nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func decodeAuditDetail(e *AuditEntry, detailJSON *string) error {
	if detailJSON == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
		return fmt.Errorf("unmarshaling detail: %w", err)
	}
	return nil
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	detailJSON, err := prepareAuditEntry(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor, action, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, string(e.Action), e.TargetID, e.Timestamp.UTC().Format(time.RFC3339), detailJSON)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.TargetID,
	)
	return nil
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, actor, action, target_id, ts, detail_json
		FROM audit_log
		WHERE (? = '' OR target_id = ?)
		  AND (? = '' OR action = ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, f.TargetID, f.TargetID, string(f.Action), string(f.Action), normalizeAuditLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var action, ts string
		var detailJSON *string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.TargetID, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = AuditAction(action)
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if err := decodeAuditDetail(&e, detailJSON); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// AppendAuditLog appends a new entry to the audit log.
func (s *PostgresStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	detailJSON, err := prepareAuditEntry(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (audit_id, actor, action, target_id, ts, detail_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Actor, string(e.Action), e.TargetID, e.Timestamp.UTC(), detailJSON)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *PostgresStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT audit_id, actor, action, target_id, ts, detail_json
		FROM audit_log
		WHERE ($1 = '' OR target_id = $1)
		  AND ($2 = '' OR action = $2)
		ORDER BY ts DESC
		LIMIT $3
	`, f.TargetID, string(f.Action), normalizeAuditLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var action string
		var detailJSON *string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.TargetID, &e.Timestamp, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = AuditAction(action)
		if err := decodeAuditDetail(&e, detailJSON); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
