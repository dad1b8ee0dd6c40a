package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gobeyondidentity/docgate/pkg/audit"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Type      audit.EventType
	Severity  audit.Severity
	Actor     string
	RunID     string
	Message   string
	Details   map[string]string
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	Type  audit.EventType
	Actor string
	RunID string
	Since time.Time
	Limit int
}

// InsertAuditEntry adds a new audit log entry to the database.
func (s *Store) InsertAuditEntry(entry *AuditEntry) (int64, error) {
	var detailsJSON sql.NullString
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO audit_log (timestamp, event_type, severity, actor, run_id, message, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UnixMilli(),
		string(entry.Type),
		int(entry.Severity),
		entry.Actor,
		entry.RunID,
		entry.Message,
		detailsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// QueryAuditEntries retrieves audit entries matching the given filter, newest first.
func (s *Store) QueryAuditEntries(filter AuditFilter) ([]*AuditEntry, error) {
	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT id, timestamp, event_type, severity, actor, run_id, message, details FROM audit_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var timestamp int64
		var eventType string
		var severity int
		var detailsJSON sql.NullString

		if err := rows.Scan(&entry.ID, &timestamp, &eventType, &severity, &entry.Actor, &entry.RunID, &entry.Message, &detailsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.UnixMilli(timestamp)
		entry.Type = audit.EventType(eventType)
		entry.Severity = audit.Severity(severity)
		if detailsJSON.Valid && detailsJSON.String != "" {
			entry.Details = make(map[string]string)
			if err := json.Unmarshal([]byte(detailsJSON.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// AuditEmitter persists audit events to the audit_log table.
// It implements audit.EventEmitter.
type AuditEmitter struct {
	store *Store
}

// NewAuditEmitter returns an emitter writing to s.
func NewAuditEmitter(s *Store) *AuditEmitter {
	return &AuditEmitter{store: s}
}

// Emit stores ev.
func (e *AuditEmitter) Emit(ev audit.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := e.store.InsertAuditEntry(&AuditEntry{
		Timestamp: ts,
		Type:      ev.Type,
		Severity:  ev.Severity,
		Actor:     ev.ActorID,
		RunID:     ev.RunID,
		Message:   ev.Message,
		Details:   ev.Details,
	})
	return err
}
