// ABOUTME: Journal types for mikroclaw persistence
// ABOUTME: Defines task history records, auth audit entries and their filters

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// TaskRecord is a finished task as written to the journal.
type TaskRecord struct {
	ID          string
	Type        string
	Status      string
	Result      string
	CreatedAt   time.Time
	StartedAt   *time.Time // nil if the task never ran
	CompletedAt time.Time
}

// AuditEvent names an admission decision worth keeping.
type AuditEvent string

const (
	AuditPairSuccess    AuditEvent = "pair_success"
	AuditPairFailure    AuditEvent = "pair_failure"
	AuditAuthFailure    AuditEvent = "auth_failure"
	AuditAuthLocked     AuditEvent = "auth_locked"
	AuditRateLimited    AuditEvent = "rate_limited"
	AuditTokenTableFull AuditEvent = "token_table_full"
)

// ValidAuditEvents lists all valid audit events.
var ValidAuditEvents = []AuditEvent{
	AuditPairSuccess,
	AuditPairFailure,
	AuditAuthFailure,
	AuditAuthLocked,
	AuditRateLimited,
	AuditTokenTableFull,
}

// AuditEntry is a single admission audit record.
type AuditEntry struct {
	ID        string     // UUID v4
	Event     AuditEvent // what happened
	ClientIP  string     // who it happened to
	Detail    string     // free-form context, e.g. the request path
	Timestamp time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time
	Event    *AuditEvent
	ClientIP *string
	Limit    int // default 50, max 1000
}

// normalizeLimit applies the default (50) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
