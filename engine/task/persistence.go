package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultFlushWindow = 25 * time.Millisecond
	DefaultMaxRetries  = 3
	defaultRetryBase   = 50 * time.Millisecond
	// failedSaveDelay re-arms the writer after a save exhausted its retries.
	failedSaveDelay = 2 * time.Second
)

// Snapshot is the full persisted state.
type Snapshot struct {
	Tasks []Task `json:"tasks"`
}

// Store loads and saves snapshots. Load returns nil, nil when nothing was saved yet.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// SaveReport describes one completed save attempt.
type SaveReport struct {
	Tasks    int
	Duration time.Duration
	Err      error
}

type PersistenceConfig struct {
	Store      Store
	Now        func() time.Time
	Logger     logger.Logger
	Window     time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
	OnSave     func(SaveReport)
}

// ConfigurePersistence loads the stored snapshot, fails interrupted tasks, saves
// the corrected state and starts the background writer. It must run before any
// task is created.
func (r *Registry) ConfigurePersistence(ctx context.Context, cfg PersistenceConfig) error {
	if cfg.Store == nil {
		return errors.New("task persistence requires a store")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persist != nil || len(r.tasks) > 0 {
		return ErrPersistenceConfigured
	}
	if cfg.Now != nil {
		r.now = cfg.Now
	}
	p := newPersister(r, cfg, log)

	snapshot, err := cfg.Store.Load(ctx)
	if err != nil {
		log.Warn("Failed to load task snapshot, starting with an empty registry", "error", err)
		snapshot = nil
	}
	recovered := r.restoreLocked(snapshot, log)
	r.version.Add(1)
	version := r.version.Load()
	if err := p.save(ctx, r.snapshotLocked()); err != nil {
		log.Error("Failed to save rehydrated task snapshot", "error", err)
	} else {
		p.saved = version
	}
	r.persist = p
	go p.run(context.WithoutCancel(ctx))
	log.Info("Task persistence configured", "tasks", len(r.order), "recovered", recovered)
	return nil
}

// FlushPersistence writes pending changes and waits for the write to land.
func (r *Registry) FlushPersistence(ctx context.Context) error {
	r.mu.RLock()
	p := r.persist
	r.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.flush(ctx)
}

// Close flushes pending changes and stops the writer.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	p := r.persist
	r.mu.RUnlock()
	if p == nil {
		return nil
	}
	err := p.flush(ctx)
	if errors.Is(err, ErrPersistenceClosed) {
		err = nil
	}
	p.close()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (r *Registry) restoreLocked(snapshot *Snapshot, log logger.Logger) int {
	if snapshot == nil {
		return 0
	}
	now := r.now()
	recovered := 0
	for i := range snapshot.Tasks {
		loaded := snapshot.Tasks[i].Clone()
		if loaded.ID.IsZero() {
			log.Warn("Skipping persisted task without id", "index", i)
			continue
		}
		if _, exists := r.tasks[loaded.ID]; exists {
			log.Warn("Skipping duplicate persisted task", "task_id", loaded.ID)
			continue
		}
		if Rehydrate(&loaded, now) {
			recovered++
			log.Warn("Task interrupted by process restart", "task_id", loaded.ID, "title", loaded.Title)
		}
		r.tasks[loaded.ID] = &loaded
		r.order = append(r.order, loaded.ID)
	}
	r.pruneLocked()
	return recovered
}

type persister struct {
	registry   *Registry
	store      Store
	log        logger.Logger
	window     time.Duration
	maxRetries uint64
	retryBase  time.Duration
	onSave     func(SaveReport)

	// saved is the registry version of the last successful save. Owned by run.
	saved uint64

	wake     chan struct{}
	urgent   chan struct{}
	flushReq chan chan error
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newPersister(r *Registry, cfg PersistenceConfig, log logger.Logger) *persister {
	window := cfg.Window
	if window <= 0 {
		window = DefaultFlushWindow
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	return &persister{
		registry:   r,
		store:      cfg.Store,
		log:        log,
		window:     window,
		maxRetries: retries,
		retryBase:  base,
		onSave:     cfg.OnSave,
		wake:       make(chan struct{}, 1),
		urgent:     make(chan struct{}, 1),
		flushReq:   make(chan chan error),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// signal never blocks. A nil persister ignores signals.
func (p *persister) signal(urgent bool) {
	if p == nil {
		return
	}
	ch := p.wake
	if urgent {
		ch = p.urgent
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *persister) run(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(p.window)
	timer.Stop()
	armed := false
	arm := func(d time.Duration) {
		if !armed {
			timer.Reset(d)
			armed = true
		}
	}
	disarm := func() {
		timer.Stop()
		armed = false
	}
	write := func() error {
		err := p.writePending(ctx)
		if err != nil {
			arm(failedSaveDelay)
		}
		return err
	}
	for {
		select {
		case <-p.wake:
			arm(p.window)
		case <-p.urgent:
			disarm()
			_ = write()
		case <-timer.C:
			armed = false
			_ = write()
		case reply := <-p.flushReq:
			disarm()
			reply <- write()
		case <-p.stop:
			disarm()
			return
		}
	}
}

func (p *persister) writePending(ctx context.Context) error {
	snapshot, version := p.registry.snapshot()
	if version == p.saved {
		return nil
	}
	if err := p.save(ctx, snapshot); err != nil {
		p.log.Error("Failed to save task snapshot", "error", err, "tasks", len(snapshot.Tasks))
		return err
	}
	p.saved = version
	return nil
}

func (p *persister) save(ctx context.Context, snapshot *Snapshot) error {
	start := time.Now()
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.store.Save(ctx, snapshot); err != nil {
			p.log.Warn("Task snapshot save attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if p.onSave != nil {
		p.onSave(SaveReport{Tasks: len(snapshot.Tasks), Duration: time.Since(start), Err: err})
	}
	if err != nil {
		return fmt.Errorf("failed to save task snapshot: %w", err)
	}
	return nil
}

func (p *persister) flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.flushReq <- reply:
	case <-p.done:
		return ErrPersistenceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}
