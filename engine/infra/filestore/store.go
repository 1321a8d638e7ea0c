package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

var (
	ErrMalformedSnapshot = errors.New("malformed task snapshot")
	ErrLocked            = errors.New("task snapshot is locked by another process")
)

type Option func(*Store)

// WithFs replaces the filesystem. Open ignores it for the lock file.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithQuarantine moves malformed snapshots aside on load.
func WithQuarantine(enabled bool) Option {
	return func(s *Store) {
		s.quarantine = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store keeps the task snapshot in a single JSON file.
type Store struct {
	fs         afero.Fs
	path       string
	quarantine bool
	now        func() time.Time
	mu         sync.Mutex
	lock       *flock.Flock
}

var _ task.Store = (*Store)(nil)

func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	s := &Store{
		fs:   afero.NewOsFs(),
		path: filepath.Clean(path),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open creates the snapshot directory and takes an exclusive lock next to the
// snapshot so only one process writes it.
func Open(path string, opts ...Option) (*Store, error) {
	s, err := New(path, append([]Option{WithQuarantine(true)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock task snapshot: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, s.path)
	}
	s.lock = lock
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Close releases the process lock taken by Open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	if err != nil {
		return fmt.Errorf("failed to unlock task snapshot: %w", err)
	}
	return nil
}

// Load returns nil when the snapshot does not exist or is empty.
func (s *Store) Load(ctx context.Context) (*task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var snapshot task.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if s.quarantine {
			s.quarantineLocked(ctx)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSnapshot, s.path, err)
	}
	return &snapshot, nil
}

func (s *Store) quarantineLocked(ctx context.Context) {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	log := logger.FromContext(ctx)
	if err := s.fs.Rename(s.path, target); err != nil {
		log.Error("Failed to move malformed task snapshot aside", "path", s.path, "error", err)
		return
	}
	log.Warn("Moved malformed task snapshot aside", "path", s.path, "target", target)
}

// Save writes the snapshot to a temporary file in the same directory and
// renames it over the target.
func (s *Store) Save(_ context.Context, snapshot *task.Snapshot) error {
	if snapshot == nil {
		snapshot = &task.Snapshot{}
	}
	if snapshot.Tasks == nil {
		snapshot = &task.Snapshot{Tasks: []task.Task{}}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = s.fs.Remove(tmpName)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temporary snapshot: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace task snapshot: %w", err)
	}
	return nil
}
