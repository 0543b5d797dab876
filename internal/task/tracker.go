// ABOUTME: Task tracker for asynchronously submitted agent work
// ABOUTME: Assigns ulid task IDs and enforces the pending/processing/terminal state machine

package task

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound indicates an unknown task ID.
	ErrNotFound = errors.New("task not found")
	// ErrConflict indicates a cancellation attempt on a terminal task.
	ErrConflict = errors.New("task already terminal")
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot is a point-in-time view of a task returned by Status lookups.
type Snapshot struct {
	ID        string          `json:"task_id"`
	Status    Status          `json:"status"`
	Progress  float64         `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Work is the unit handed to Submit. It runs on its own goroutine with a
// cancellable context and may report progress in [0,1] as it goes.
type Work func(ctx context.Context, report func(float64)) (json.RawMessage, error)

// task holds one tracked unit of work. Each task carries its own mutex so
// unrelated tasks never contend.
type task struct {
	mu        sync.Mutex
	id        string
	status    Status
	progress  float64
	result    json.RawMessage
	errMsg    string
	createdAt time.Time
	updatedAt time.Time
	cancel    context.CancelFunc
}

// Tracker runs submitted work out of band and answers status and cancel
// requests by task ID.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*task
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewTracker creates an empty tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		tasks:  make(map[string]*task),
		logger: logger.With("component", "tasks"),
	}
}

// Submit registers work and returns its task ID immediately with status
// pending. The work runs on its own goroutine; ctx bounds its total runtime.
func (t *Tracker) Submit(ctx context.Context, work Work) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	workCtx, cancel := context.WithCancel(ctx)

	now := time.Now().UTC()
	tk := &task{
		id:        id,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		cancel:    cancel,
	}

	t.mu.Lock()
	t.tasks[id] = tk
	t.mu.Unlock()

	t.logger.Debug("task submitted", "task_id", id)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		t.run(workCtx, tk, work)
	}()

	return id
}

// run drives one task through processing to a terminal state.
func (t *Tracker) run(ctx context.Context, tk *task, work Work) {
	if !tk.transition(StatusPending, StatusProcessing) {
		// Cancelled before the goroutine was scheduled.
		return
	}

	report := func(p float64) {
		tk.setProgress(p)
	}

	result, err := work(ctx, report)

	switch {
	case err == nil:
		if tk.complete(result) {
			t.logger.Debug("task completed", "task_id", tk.id)
		}
	case errors.Is(err, context.Canceled):
		// Cancel already moved the task to cancelled; nothing to record.
	default:
		if tk.fail(err.Error()) {
			t.logger.Warn("task failed", "task_id", tk.id, "error", err)
		}
	}
}

// Status returns a snapshot of the task. Returns ErrNotFound for unknown IDs.
func (t *Tracker) Status(id string) (*Snapshot, error) {
	t.mu.RLock()
	tk, ok := t.tasks[id]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return tk.snapshot(), nil
}

// Cancel requests cooperative cancellation. Returns ErrConflict if the task
// already reached a terminal state and ErrNotFound for unknown IDs.
func (t *Tracker) Cancel(id string) error {
	t.mu.RLock()
	tk, ok := t.tasks[id]
	t.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	tk.mu.Lock()
	if tk.status.Terminal() {
		tk.mu.Unlock()
		return ErrConflict
	}
	tk.status = StatusCancelled
	tk.updatedAt = time.Now().UTC()
	tk.mu.Unlock()

	tk.cancel()
	t.logger.Info("task cancelled", "task_id", id)
	return nil
}

// List returns snapshots of all tracked tasks, newest first by ulid ordering.
func (t *Tracker) List() []*Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshots := make([]*Snapshot, 0, len(t.tasks))
	for _, tk := range t.tasks {
		snapshots = append(snapshots, tk.snapshot())
	}
	return snapshots
}

// Wait blocks until all submitted work has finished. Used during shutdown.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (tk *task) transition(from, to Status) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.status != from {
		return false
	}
	tk.status = to
	tk.updatedAt = time.Now().UTC()
	return true
}

func (tk *task) setProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.status.Terminal() {
		return
	}
	tk.progress = p
	tk.updatedAt = time.Now().UTC()
}

func (tk *task) complete(result json.RawMessage) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.status.Terminal() {
		return false
	}
	tk.status = StatusCompleted
	tk.progress = 1
	tk.result = result
	tk.updatedAt = time.Now().UTC()
	return true
}

func (tk *task) fail(msg string) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.status.Terminal() {
		return false
	}
	tk.status = StatusFailed
	tk.errMsg = msg
	tk.updatedAt = time.Now().UTC()
	return true
}

func (tk *task) snapshot() *Snapshot {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return &Snapshot{
		ID:        tk.id,
		Status:    tk.status,
		Progress:  tk.progress,
		Result:    tk.result,
		Error:     tk.errMsg,
		CreatedAt: tk.createdAt,
		UpdatedAt: tk.updatedAt,
	}
}
