// ABOUTME: Task record types and lifecycle states for the async scheduler
// ABOUTME: Defines Status, Task snapshots and list summaries

package tasks

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Scheduler errors
var (
	ErrNotFound       = errors.New("task not found")
	ErrQueueFull      = errors.New("queue full")
	ErrInvalidType    = errors.New("invalid task type")
	ErrParamsTooLarge = errors.New("task params too large")
	ErrClosed         = errors.New("scheduler shut down")
)

const (
	// MaxResultBytes bounds the stored result of a task.
	MaxResultBytes = 4096

	// MaxParamsBytes bounds the params accepted by Submit.
	MaxParamsBytes = 4096

	// DefaultMaxTasks is the task table capacity.
	DefaultMaxTasks = 100

	// DefaultRetention is how long terminal tasks stay queryable.
	DefaultRetention = 300 * time.Second
)

var typePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

// ValidType reports whether name is acceptable as a task type.
func ValidType(name string) bool {
	return typePattern.MatchString(name)
}

// Task is a point-in-time copy of a task record.
type Task struct {
	ID          string          `json:"task_id"`
	Type        string          `json:"type"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      Status          `json:"status"`
	Result      string          `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// Summary is the id and status of a task, as returned by List.
type Summary struct {
	ID     string `json:"task_id"`
	Status Status `json:"status"`
}

// worker is the handle of a dispatched task's goroutine.
type worker struct {
	id     uint64
	cancel func()
}

// record is a slot in the task table.
type record struct {
	Task
	worker *worker
}

func (r *record) snapshot() Task {
	t := r.Task
	if r.Params != nil {
		t.Params = append(json.RawMessage(nil), r.Params...)
	}
	return t
}
