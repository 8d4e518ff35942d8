// ABOUTME: Async task scheduler that queues, dispatches, reaps and expires tasks
// ABOUTME: Workers are goroutines behind a recover boundary reporting over a results channel

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Recorder receives every task once, on its terminal transition.
type Recorder interface {
	RecordTask(ctx context.Context, t Task) error
}

// Stats reports scheduler occupancy.
type Stats struct {
	Queued     int
	Running    int
	Tasks      int
	Capacity   int
	MaxWorkers int
}

// workerResult is what a finished worker reports back.
type workerResult struct {
	workerID uint64
	taskID   string
	output   string
	err      error
}

const recordTimeout = 5 * time.Second

// Scheduler owns the task table and the worker pool. All state changes
// happen in Submit, Poll, Cancel and Shutdown; workers only report results.
type Scheduler struct {
	mu         sync.Mutex
	table      *table
	pool       *Pool
	registry   *Registry
	retention  time.Duration
	instance   string
	seq        uint64
	nextWorker uint64
	closed     bool

	results chan workerResult
	notify  chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetention sets how long terminal tasks remain in the table.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// WithRecorder sets a Recorder notified of terminal tasks.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithClock replaces time.Now for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstanceID overrides the per-process id suffix of task ids.
func WithInstanceID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.instance = id
		}
	}
}

// NewScheduler creates a scheduler with room for maxTasks task records.
func NewScheduler(maxTasks int, pool *Pool, registry *Registry, opts ...Option) *Scheduler {
	if pool == nil {
		pool = NewPool(DefaultMaxWorkers)
	}
	if registry == nil {
		registry = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		table:      newTable(maxTasks),
		pool:       pool,
		registry:   registry,
		retention:  DefaultRetention,
		instance:   strings.SplitN(uuid.New().String(), "-", 2)[0],
		baseCtx:    ctx,
		baseCancel: cancel,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.results = make(chan workerResult, s.table.capacity())
	s.notify = make(chan struct{}, 1)
	s.logger = s.logger.With("component", "tasks")
	return s
}

// Notify is signalled whenever a worker finishes, so callers can Poll early.
func (s *Scheduler) Notify() <-chan struct{} {
	return s.notify
}

// Submit queues a task of the given type. It does not start execution.
func (s *Scheduler) Submit(taskType string, params json.RawMessage) (string, error) {
	if !ValidType(taskType) {
		return "", ErrInvalidType
	}
	if len(params) > MaxParamsBytes {
		return "", ErrParamsTooLarge
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if s.table.len() >= s.table.capacity() {
		return "", ErrQueueFull
	}

	s.seq++
	rec := &record{Task: Task{
		ID:        fmt.Sprintf("task_%d_%s", s.seq, s.instance),
		Type:      taskType,
		Params:    append(json.RawMessage(nil), params...),
		Status:    StatusQueued,
		CreatedAt: s.now(),
	}}
	if !s.table.insert(rec) {
		return "", ErrQueueFull
	}

	s.logger.Debug("task queued", "task_id", rec.ID, "type", taskType)
	return rec.ID, nil
}

// Poll reaps finished workers, dispatches queued tasks in table order while
// the pool has room, then drops terminal tasks older than the retention.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	finished := s.reapLocked()
	finished = append(finished, s.dispatchLocked()...)
	s.sweepLocked()
	s.mu.Unlock()

	s.record(finished)
}

// reapLocked drains the results channel without blocking.
func (s *Scheduler) reapLocked() []Task {
	var finished []Task
	for {
		select {
		case res := <-s.results:
			if t, ok := s.finishLocked(res); ok {
				finished = append(finished, t)
			}
		default:
			return finished
		}
	}
}

// finishLocked applies a worker result to its task if the task still
// belongs to that worker.
func (s *Scheduler) finishLocked(res workerResult) (Task, bool) {
	rec, ok := s.table.get(res.taskID)
	if !ok || rec.worker == nil || rec.worker.id != res.workerID || rec.Status != StatusRunning {
		s.logger.Debug("discarding stale worker result", "task_id", res.taskID)
		return Task{}, false
	}

	rec.worker.cancel()
	rec.worker = nil
	s.pool.Release()

	switch {
	case res.err != nil:
		rec.Status = StatusFailed
		rec.Result = truncateResult(res.err.Error())
	case !utf8.ValidString(res.output):
		rec.Status = StatusFailed
		rec.Result = "malformed worker result"
	default:
		rec.Status = StatusComplete
		rec.Result = truncateResult(res.output)
		if rec.Result == "" {
			rec.Result = "(no output)"
		}
	}
	rec.CompletedAt = s.now()

	s.logger.Info("task finished", "task_id", rec.ID, "type", rec.Type, "status", rec.Status,
		"duration", rec.CompletedAt.Sub(rec.StartedAt))
	return rec.snapshot(), true
}

// dispatchLocked starts queued tasks in slot order until the pool is full.
// Tasks with no registered handler fail without running.
func (s *Scheduler) dispatchLocked() []Task {
	if s.closed {
		return nil
	}

	var failed []Task
	s.table.each(func(_ int, rec *record) bool {
		if rec.Status != StatusQueued {
			return true
		}
		if s.pool.Available() == 0 {
			return false
		}

		handler, ok := s.registry.Resolve(rec.Type)
		if !ok {
			rec.Status = StatusFailed
			rec.Result = "unknown task type: " + rec.Type
			rec.CompletedAt = s.now()
			s.logger.Warn("unknown task type", "task_id", rec.ID, "type", rec.Type)
			failed = append(failed, rec.snapshot())
			return true
		}

		if !s.pool.TryAcquire() {
			return false
		}
		s.startLocked(rec, handler)
		return true
	})
	return failed
}

func (s *Scheduler) startLocked(rec *record, handler Handler) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.nextWorker++
	rec.worker = &worker{id: s.nextWorker, cancel: cancel}
	rec.Status = StatusRunning
	rec.StartedAt = s.now()

	params := append(json.RawMessage(nil), rec.Params...)
	go s.run(ctx, s.nextWorker, rec.ID, handler, params)

	s.logger.Info("task started", "task_id", rec.ID, "type", rec.Type)
}

// run executes handler and reports its outcome. A panic is reported as a failure.
// Results of cancelled workers are dropped.
func (s *Scheduler) run(ctx context.Context, workerID uint64, taskID string, handler Handler, params json.RawMessage) {
	res := workerResult{workerID: workerID, taskID: taskID}
	defer func() {
		if r := recover(); r != nil {
			res.output = ""
			res.err = fmt.Errorf("worker panic: %v", r)
		}
		select {
		case s.results <- res:
		case <-ctx.Done():
			return
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}()

	res.output, res.err = handler.Handle(ctx, params)
}

// sweepLocked frees slots of terminal tasks completed more than retention ago.
func (s *Scheduler) sweepLocked() {
	now := s.now()
	s.table.each(func(i int, rec *record) bool {
		if rec.Status.Terminal() && !rec.CompletedAt.IsZero() && now.Sub(rec.CompletedAt) > s.retention {
			s.logger.Debug("task expired", "task_id", rec.ID)
			s.table.removeAt(i)
		}
		return true
	})
}

// Get returns a snapshot of the task with the given id.
func (s *Scheduler) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.table.get(id)
	if !ok {
		return Task{}, ErrNotFound
	}
	return rec.snapshot(), nil
}

// List returns the id and status of every task in table order.
func (s *Scheduler) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, s.table.len())
	s.table.each(func(_ int, rec *record) bool {
		out = append(out, Summary{ID: rec.ID, Status: rec.Status})
		return true
	})
	return out
}

// Cancel marks a queued or running task cancelled and signals its worker.
// Cancelling a task that already finished changes nothing and returns its status.
func (s *Scheduler) Cancel(id string) (Status, error) {
	s.mu.Lock()
	rec, ok := s.table.get(id)
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	if rec.Status.Terminal() {
		status := rec.Status
		s.mu.Unlock()
		return status, nil
	}

	s.cancelLocked(rec, "cancelled")
	t := rec.snapshot()
	s.mu.Unlock()

	s.logger.Info("task cancelled", "task_id", id)
	s.record([]Task{t})
	return StatusCancelled, nil
}

func (s *Scheduler) cancelLocked(rec *record, reason string) {
	if rec.worker != nil {
		rec.worker.cancel()
		rec.worker = nil
		s.pool.Release()
	}
	rec.Status = StatusCancelled
	rec.Result = reason
	rec.CompletedAt = s.now()
}

// Shutdown stops dispatching and cancels every running worker.
// Queued tasks stay queued.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	var cancelled []Task
	s.table.each(func(_ int, rec *record) bool {
		if rec.Status == StatusRunning {
			s.cancelLocked(rec, "cancelled: gateway shutting down")
			cancelled = append(cancelled, rec.snapshot())
		}
		return true
	})
	s.baseCancel()
	s.mu.Unlock()

	if len(cancelled) > 0 {
		s.logger.Info("cancelled running tasks on shutdown", "count", len(cancelled))
	}
	s.record(cancelled)
}

// Stats returns table and pool occupancy.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Tasks: s.table.len(), Capacity: s.table.capacity(), MaxWorkers: s.pool.Max()}
	s.table.each(func(_ int, rec *record) bool {
		switch rec.Status {
		case StatusQueued:
			st.Queued++
		case StatusRunning:
			st.Running++
		}
		return true
	})
	return st
}

// Registry returns the handler registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

func (s *Scheduler) record(finished []Task) {
	if s.recorder == nil || len(finished) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	for _, t := range finished {
		if err := s.recorder.RecordTask(ctx, t); err != nil {
			s.logger.Warn("failed to record task", "task_id", t.ID, "error", err)
		}
	}
}

// truncateResult cuts s to at most MaxResultBytes without splitting a rune.
func truncateResult(s string) string {
	if len(s) <= MaxResultBytes {
		return s
	}
	cut := MaxResultBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
