// ABOUTME: Admission audit log store methods
// ABOUTME: Records pairing, bearer auth, lockout and rate-limit decisions per client IP

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (audit_id, event, client_ip, detail, ts)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Event,
		e.ClientIP,
		e.Detail,
		formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"event", e.Event,
		"client_ip", e.ClientIP,
	)
	return nil
}

const auditLogQuery = `
	SELECT audit_id, event, client_ip, detail, ts
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR event = ?)
	  AND (? IS NULL OR client_ip = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var sinceStr, eventStr *string
	if f.Since != nil {
		str := formatTime(*f.Since)
		sinceStr = &str
	}
	if f.Event != nil {
		str := string(*f.Event)
		eventStr = &str
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		eventStr, eventStr,
		f.ClientIP, f.ClientIP,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var eventStr, tsStr string
		if err := rows.Scan(&e.ID, &eventStr, &e.ClientIP, &e.Detail, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Event = AuditEvent(eventStr)
		if e.Timestamp, err = parseTime(tsStr); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
