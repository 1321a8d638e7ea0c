package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memStore keeps the snapshot as JSON so every save exercises the codec.
type memStore struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	failures int
	loadErr  error

	inflight   atomic.Int32
	overlapped atomic.Bool
}

func (s *memStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(s.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *memStore) Save(_ context.Context, snap *Snapshot) error {
	if s.inflight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	defer s.inflight.Add(-1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) snapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := s.Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap
}

func (s *memStore) seed(t *testing.T, snap *Snapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

func newPersistentRegistry(t *testing.T, store *memStore, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	require.NoError(t, r.ConfigurePersistence(t.Context(), PersistenceConfig{
		Store:     store,
		Window:    200 * time.Millisecond,
		RetryBase: time.Millisecond,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

// runBlocked starts a task whose executor waits until release is closed.
func runBlocked(t *testing.T, r *Registry, cfg Config) (*Handle, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	h, err := r.RunTask(t.Context(), cfg, func(_ context.Context, _ *Runtime) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	return h, release
}
