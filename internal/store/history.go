// ABOUTME: Task history journal written when tasks reach a terminal state
// ABOUTME: Implements tasks.Recorder and backs the history CLI command

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikroclaw/mikroclaw/internal/tasks"
)

// RecordTask writes a terminal task to the journal. Recording the same task
// twice keeps the first write.
func (s *SQLiteStore) RecordTask(ctx context.Context, t tasks.Task) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("recording task %s: status %q is not terminal", t.ID, t.Status)
	}
	return s.AppendTaskRecord(ctx, &TaskRecord{
		ID:          t.ID,
		Type:        t.Type,
		Status:      string(t.Status),
		Result:      t.Result,
		CreatedAt:   t.CreatedAt,
		StartedAt:   optionalTime(t.StartedAt),
		CompletedAt: t.CompletedAt,
	})
}

// AppendTaskRecord inserts a task history row.
func (s *SQLiteStore) AppendTaskRecord(ctx context.Context, r *TaskRecord) error {
	var startedAt *string
	if r.StartedAt != nil {
		str := formatTime(*r.StartedAt)
		startedAt = &str
	}

	query := `
		INSERT OR IGNORE INTO task_history (id, type, status, result, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.Type,
		r.Status,
		r.Result,
		formatTime(r.CreatedAt),
		startedAt,
		formatTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting task record: %w", err)
	}

	s.logger.Debug("recorded task", "task_id", r.ID, "type", r.Type, "status", r.Status)
	return nil
}

// GetTaskRecord returns the journal entry for a task id.
func (s *SQLiteStore) GetTaskRecord(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, result, created_at, started_at, completed_at
		FROM task_history WHERE id = ?
	`, id)

	r, err := scanTaskRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListTaskRecords returns the most recently completed tasks, newest first.
func (s *SQLiteStore) ListTaskRecords(ctx context.Context, limit int) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, result, created_at, started_at, completed_at
		FROM task_history
		ORDER BY completed_at DESC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []TaskRecord{}
	for rows.Next() {
		r, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task history: %w", err)
	}
	return records, nil
}

func scanTaskRecord(scanner interface{ Scan(dest ...any) error }) (TaskRecord, error) {
	var r TaskRecord
	var createdStr, completedStr string
	var startedStr *string

	if err := scanner.Scan(&r.ID, &r.Type, &r.Status, &r.Result, &createdStr, &startedStr, &completedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning task record: %w", err)
	}

	var err error
	if r.CreatedAt, err = parseTime(createdStr); err != nil {
		return r, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.CompletedAt, err = parseTime(completedStr); err != nil {
		return r, fmt.Errorf("parsing completed_at: %w", err)
	}
	if startedStr != nil {
		started, err := parseTime(*startedStr)
		if err != nil {
			return r, fmt.Errorf("parsing started_at: %w", err)
		}
		r.StartedAt = &started
	}
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
