// Package store provides the mikroclaw journal using SQLite.
//
// # Data Models
//
//   - TaskRecord: a task that reached complete, failed or cancelled
//   - AuditEntry: an admission decision (pairing, bearer auth, lockout, rate limit)
//
// The journal is write-mostly. The gateway never reads it back to answer
// requests; live task state lives in the scheduler's table. The history and
// audit CLI commands read it.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Default: $XDG_DATA_HOME/mikroclaw/mikroclaw.db or ~/.local/share/mikroclaw/mikroclaw.db
//   - Testing: :memory: (in-memory database)
//
// Timestamps are stored as fixed-width RFC3339 text in UTC with nanosecond
// precision, so they order correctly as strings.
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//
// All methods accept context.Context for cancellation support.
package store
