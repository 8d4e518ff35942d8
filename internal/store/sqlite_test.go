// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers database creation, task history journaling and ordering

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikroclaw/mikroclaw/internal/tasks"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.AppendAuditLog(ctx, &AuditEntry{Event: AuditPairSuccess, ClientIP: "10.0.0.1"}); err != nil {
		t.Fatalf("AppendAuditLog failed: %v", err)
	}
	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("ListAuditLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestRecordTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	task := tasks.Task{
		ID:          "task_1_abcd",
		Type:        "skill_invoke",
		Status:      tasks.StatusComplete,
		Result:      "done",
		CreatedAt:   created,
		StartedAt:   created.Add(time.Second),
		CompletedAt: created.Add(3 * time.Second),
	}

	if err := store.RecordTask(ctx, task); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	got, err := store.GetTaskRecord(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskRecord failed: %v", err)
	}
	if got.Type != "skill_invoke" || got.Status != "complete" || got.Result != "done" {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(created.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if !got.CompletedAt.Equal(created.Add(3 * time.Second)) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
}

func TestRecordTask_NeverStarted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	task := tasks.Task{
		ID:          "task_2_abcd",
		Type:        "investigate",
		Status:      tasks.StatusCancelled,
		Result:      "cancelled",
		CreatedAt:   now,
		CompletedAt: now,
	}
	if err := store.RecordTask(ctx, task); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	got, err := store.GetTaskRecord(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskRecord failed: %v", err)
	}
	if got.StartedAt != nil {
		t.Errorf("expected nil StartedAt, got %v", got.StartedAt)
	}
}

func TestRecordTask_RejectsLiveTask(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordTask(context.Background(), tasks.Task{ID: "task_3_abcd", Status: tasks.StatusRunning})
	if err == nil {
		t.Fatal("expected error recording a running task")
	}
}

func TestRecordTask_FirstWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	first := tasks.Task{ID: "task_4_abcd", Type: "x", Status: tasks.StatusFailed, Result: "boom", CreatedAt: now, CompletedAt: now}
	second := first
	second.Status = tasks.StatusComplete
	second.Result = "ok"

	if err := store.RecordTask(ctx, first); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	if err := store.RecordTask(ctx, second); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	got, err := store.GetTaskRecord(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTaskRecord failed: %v", err)
	}
	if got.Status != "failed" || got.Result != "boom" {
		t.Errorf("expected first write to be kept, got %+v", got)
	}
}

func TestGetTaskRecord_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTaskRecord(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListTaskRecords_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"task_a", "task_b", "task_c"} {
		done := base.Add(time.Duration(i) * time.Minute)
		err := store.RecordTask(ctx, tasks.Task{
			ID: id, Type: "x", Status: tasks.StatusComplete, Result: "r",
			CreatedAt: base, CompletedAt: done,
		})
		if err != nil {
			t.Fatalf("RecordTask failed: %v", err)
		}
	}

	records, err := store.ListTaskRecords(ctx, 2)
	if err != nil {
		t.Fatalf("ListTaskRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "task_c" || records[1].ID != "task_b" {
		t.Errorf("unexpected order: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-3, 50},
		{10, 10},
		{1000, 1000},
		{5000, 1000},
	}
	for _, tt := range tests {
		if got := normalizeLimit(tt.in); got != tt.want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
