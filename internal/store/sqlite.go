// ABOUTME: SQLite journal using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and creates the task history and audit tables

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// SQLiteStore persists task history and admission audit entries.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS task_history (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			result       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			started_at   TEXT,
			completed_at TEXT NOT NULL,

			CHECK (status IN ('complete', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_task_history_completed
			ON task_history(completed_at);
		CREATE INDEX IF NOT EXISTS idx_task_history_type
			ON task_history(type);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id  TEXT PRIMARY KEY,
			event     TEXT NOT NULL,
			client_ip TEXT NOT NULL,
			detail    TEXT NOT NULL DEFAULT '',
			ts        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_client ON audit_log(client_ip);
		CREATE INDEX IF NOT EXISTS idx_audit_log_event ON audit_log(event);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
