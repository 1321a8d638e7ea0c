package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/pkg/logger"
)

// Config describes a task to create.
type Config struct {
	Type     string
	Title    string
	Metadata Metadata
}

// Executor drives one task. Returning an error marks the task failed unless
// the executor already recorded a terminal status.
type Executor func(ctx context.Context, rt *Runtime) error

// Change is delivered to observers after every committed mutation.
type Change struct {
	Previous Status
	Task     Task
}

type Observer interface {
	TaskChanged(ctx context.Context, change Change)
}

type ObserverFunc func(ctx context.Context, change Change)

func (f ObserverFunc) TaskChanged(ctx context.Context, change Change) {
	f(ctx, change)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithMaxRetained caps how many terminal tasks are kept; 0 keeps all.
func WithMaxRetained(n int) Option {
	return func(r *Registry) {
		r.maxRetained = n
	}
}

// Registry owns every task record. All mutations go through it.
type Registry struct {
	mu          sync.RWMutex
	tasks       map[core.ID]*Task
	order       []core.ID
	version     atomic.Uint64
	now         func() time.Time
	observers   []Observer
	maxRetained int
	persist     *persister
	running     sync.WaitGroup
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[core.ID]*Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle tracks a running executor.
type Handle struct {
	ID   core.ID
	done chan struct{}
	err  error
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the executor returns and reports its error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runtime is handed to an executor and is bound to its task.
type Runtime struct {
	TaskID   core.ID
	Progress *StepProgress
	registry *Registry
}

func (rt *Runtime) SetResult(value any) error {
	return rt.registry.SetResult(rt.TaskID, value)
}

func (rt *Runtime) UpdateMetadata(patch Patch) error {
	return rt.registry.UpdateMetadata(rt.TaskID, patch)
}

// Task returns a copy of the current task state.
func (rt *Runtime) Task() (Task, error) {
	return rt.registry.GetTask(rt.TaskID)
}

// RunTask registers a pending task and starts exec on its own goroutine.
// It returns as soon as the task is registered.
func (r *Registry) RunTask(ctx context.Context, cfg Config, exec Executor) (*Handle, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}
	id, err := core.NewID()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	now := r.now()
	t := &Task{
		ID:        id,
		Type:      cfg.Type,
		Title:     cfg.Title,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  cfg.Metadata.clone(),
		Steps:     []Step{},
	}
	r.tasks[id] = t
	r.order = append(r.order, id)
	r.version.Add(1)
	snapshot := t.Clone()
	p := r.persist
	r.mu.Unlock()

	r.notify(ctx, Change{Previous: "", Task: snapshot})
	p.signal(false)

	log := logger.FromContext(ctx)
	log.Debug("Task created", "task_id", id, "type", cfg.Type)
	h := &Handle{ID: id, done: make(chan struct{})}
	rt := &Runtime{TaskID: id, registry: r, Progress: &StepProgress{registry: r, taskID: id}}
	execCtx := context.WithoutCancel(ctx)
	r.running.Add(1)
	go r.execute(execCtx, h, rt, exec)
	return h, nil
}

func (r *Registry) execute(ctx context.Context, h *Handle, rt *Runtime, exec Executor) {
	defer r.running.Done()
	defer close(h.done)
	h.err = invoke(ctx, rt, exec)
	if err := r.finalize(ctx, rt.TaskID, h.err); err != nil {
		logger.FromContext(ctx).Error("Failed to finalize task", "task_id", rt.TaskID, "error", err)
	}
}

func invoke(ctx context.Context, rt *Runtime, exec Executor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task executor panicked: %v", rec)
		}
	}()
	return exec(ctx, rt)
}

// finalize resolves a task whose executor returned without reaching a terminal state.
func (r *Registry) finalize(ctx context.Context, id core.ID, execErr error) error {
	_, err := r.mutate(ctx, id, func(t *Task, now time.Time) error {
		if t.Status.IsTerminal() {
			return errUnchanged
		}
		if execErr != nil {
			return applyPatch(ctx, t, Patch{
				Status: StatusFailed,
				Error:  &Failure{Reason: ReasonExecutorError, Message: execErr.Error()},
			}, now)
		}
		return applyPatch(ctx, t, Patch{Status: StatusSucceeded}, now)
	})
	if errors.Is(err, ErrTaskNotFound) {
		return nil
	}
	return err
}

// Wait blocks until every running executor has returned.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListTasks returns copies of all tasks, newest first.
func (r *Registry) ListTasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.tasks[r.order[i]].Clone())
	}
	return out
}

func (r *Registry) GetTask(id core.ID) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// Progress returns the step tracker bound to the given task.
func (r *Registry) Progress(id core.ID) *StepProgress {
	return &StepProgress{registry: r, taskID: id}
}

// UpdateMetadata merges patch into the task and applies an optional status change.
func (r *Registry) UpdateMetadata(id core.ID, patch Patch) error {
	ctx := context.Background()
	_, err := r.mutate(ctx, id, func(t *Task, now time.Time) error {
		return applyPatch(ctx, t, patch, now)
	})
	return err
}

// SetResult stores value as the task result. It fails once the task is terminal.
func (r *Registry) SetResult(id core.ID, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}
	_, err = r.mutate(context.Background(), id, func(t *Task, _ time.Time) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrTaskTerminal, t.ID)
		}
		t.Result = raw
		return nil
	})
	return err
}

func applyPatch(ctx context.Context, t *Task, patch Patch, now time.Time) error {
	target := patch.Status
	if target == "" && patch.Error != nil {
		target = StatusFailed
	}
	next := t.Status
	if target != "" {
		var err error
		if next, err = advanceTask(ctx, t.Status, target); err != nil {
			return err
		}
	}
	if patch.Metadata != nil {
		if err := t.Metadata.Merge(*patch.Metadata); err != nil {
			return err
		}
	}
	t.Status = next
	if next == StatusFailed && patch.Error != nil && t.Error == nil {
		failure := *patch.Error
		t.Error = &failure
	}
	if next.IsTerminal() && t.CompletedAt == nil {
		t.CompletedAt = timePtr(now)
	}
	return nil
}

// mutate applies fn under the write lock and publishes the outcome.
func (r *Registry) mutate(ctx context.Context, id core.ID, fn func(t *Task, now time.Time) error) (Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	previous := t.Status
	now := r.now()
	work := t.Clone()
	if err := applyIsolated(fn, &work, now); err != nil {
		r.mu.Unlock()
		if errors.Is(err, errUnchanged) {
			return Task{}, nil
		}
		return Task{}, err
	}
	*t = work
	t.UpdatedAt = now
	terminal := !previous.IsTerminal() && t.Status.IsTerminal()
	if terminal {
		r.pruneLocked()
	}
	r.version.Add(1)
	snapshot := t.Clone()
	p := r.persist
	r.mu.Unlock()

	r.notify(ctx, Change{Previous: previous, Task: snapshot})
	p.signal(terminal)
	return snapshot, nil
}

// applyIsolated runs fn on a working copy and turns a panic into an error,
// so a failed mutation leaves the stored task untouched and the lock usable.
func applyIsolated(fn func(t *Task, now time.Time) error, t *Task, now time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task mutation panicked: %v", rec)
		}
	}()
	return fn(t, now)
}

// pruneLocked drops the oldest terminal tasks beyond maxRetained.
func (r *Registry) pruneLocked() {
	if r.maxRetained <= 0 {
		return
	}
	terminal := 0
	for _, id := range r.order {
		if r.tasks[id].Status.IsTerminal() {
			terminal++
		}
	}
	excess := terminal - r.maxRetained
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.tasks[id].Status.IsTerminal() {
			delete(r.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Registry) notify(ctx context.Context, change Change) {
	for _, o := range r.observers {
		o.TaskChanged(ctx, change)
	}
}

// snapshot copies all tasks in creation order with the version they reflect.
func (r *Registry) snapshot() (*Snapshot, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.version.Load()
}

func (r *Registry) snapshotLocked() *Snapshot {
	tasks := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.tasks[id].Clone())
	}
	return &Snapshot{Tasks: tasks}
}
