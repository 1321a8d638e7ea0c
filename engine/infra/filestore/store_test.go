package filestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/compozy/agentrix/engine/task"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T, opts ...Option) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New("/data/tasks.json", append([]Option{WithFs(fs)}, opts...)...)
	require.NoError(t, err)
	return s, fs
}

func TestStore_Load(t *testing.T) {
	t.Run("Should return nil when the snapshot does not exist", func(t *testing.T) {
		s, _ := newMemStore(t)
		snap, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("Should return nil for an empty file", func(t *testing.T) {
		s, fs := newMemStore(t)
		require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte("  \n"), 0o644))
		snap, err := s.Load(t.Context())
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("Should quarantine malformed snapshots", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		s, fs := newMemStore(t, WithQuarantine(true), WithClock(func() time.Time { return now }))
		require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte(`{"tasks": [`), 0o644))
		snap, err := s.Load(t.Context())
		require.ErrorIs(t, err, ErrMalformedSnapshot)
		assert.Nil(t, snap)
		exists, err := afero.Exists(fs, "/data/tasks.json")
		require.NoError(t, err)
		assert.False(t, exists)
		moved, err := afero.ReadFile(fs, "/data/tasks.json.corrupt-1700000000")
		require.NoError(t, err)
		assert.Equal(t, `{"tasks": [`, string(moved))
	})

	t.Run("Should leave malformed snapshots in place without quarantine", func(t *testing.T) {
		s, fs := newMemStore(t)
		require.NoError(t, afero.WriteFile(fs, "/data/tasks.json", []byte(`nope`), 0o644))
		_, err := s.Load(t.Context())
		require.ErrorIs(t, err, ErrMalformedSnapshot)
		exists, err := afero.Exists(fs, "/data/tasks.json")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestStore_Save(t *testing.T) {
	t.Run("Should round trip tasks and leave no temporary files", func(t *testing.T) {
		s, fs := newMemStore(t)
		created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		snap := &task.Snapshot{Tasks: []task.Task{{
			ID:        "t1",
			Type:      "automation:launch",
			Title:     "demo",
			Status:    task.StatusFailed,
			CreatedAt: created,
			UpdatedAt: created,
			Metadata:  task.Metadata{Org: "acme", Extras: map[string]any{"planEnabled": false}},
			Error:     &task.Failure{Reason: "executor_error", Message: "boom"},
			Steps:     []task.Step{{ID: "ensure-repository", Label: "Ensure repository", Status: task.StepFailed, Logs: []task.LogEntry{}}},
		}}}
		require.NoError(t, s.Save(t.Context(), snap))
		loaded, err := s.Load(t.Context())
		require.NoError(t, err)
		require.Len(t, loaded.Tasks, 1)
		assert.Equal(t, snap.Tasks[0].Metadata, loaded.Tasks[0].Metadata)
		assert.Equal(t, snap.Tasks[0].Error, loaded.Tasks[0].Error)
		assert.True(t, created.Equal(loaded.Tasks[0].CreatedAt))

		entries, err := afero.ReadDir(fs, "/data")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "tasks.json", entries[0].Name())
	})

	t.Run("Should write camelCase keys and RFC 3339 timestamps", func(t *testing.T) {
		s, fs := newMemStore(t)
		created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.Save(t.Context(), &task.Snapshot{Tasks: []task.Task{{ID: "t1", CreatedAt: created}}}))
		data, err := afero.ReadFile(fs, "/data/tasks.json")
		require.NoError(t, err)
		assert.Contains(t, string(data), `"createdAt": "2026-05-01T09:00:00Z"`)
		assert.Contains(t, string(data), `"tasks": [`)
	})

	t.Run("Should write an empty list for a nil snapshot", func(t *testing.T) {
		s, fs := newMemStore(t)
		require.NoError(t, s.Save(t.Context(), nil))
		data, err := afero.ReadFile(fs, "/data/tasks.json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"tasks": []}`, string(data))
	})

	t.Run("Should fail on a read-only filesystem", func(t *testing.T) {
		s, err := New("/data/tasks.json", WithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())))
		require.NoError(t, err)
		require.Error(t, s.Save(t.Context(), &task.Snapshot{}))
	})
}

func TestOpen(t *testing.T) {
	t.Run("Should refuse a second owner of the same snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "tasks.json")
		first, err := Open(path)
		require.NoError(t, err)
		_, err = Open(path)
		require.ErrorIs(t, err, ErrLocked)
		require.NoError(t, first.Close())
		second, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, second.Close())
	})

	t.Run("Should require a path", func(t *testing.T) {
		_, err := New("")
		require.Error(t, err)
	})
}

func TestStore_WithRegistry(t *testing.T) {
	t.Run("Should recover pending tasks from disk after a restart", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tasks.json")
		first, err := Open(path)
		require.NoError(t, err)
		done := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, first.Save(t.Context(), &task.Snapshot{Tasks: []task.Task{
			{ID: "ok", Title: "finished", Status: task.StatusSucceeded, CompletedAt: &done, Result: []byte(`{"branch":"main"}`)},
			{ID: "stuck", Title: "waiting", Status: task.StatusPending},
		}}))
		require.NoError(t, first.Close())

		store, err := Open(path)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		registry := task.NewRegistry()
		require.NoError(t, registry.ConfigurePersistence(t.Context(), task.PersistenceConfig{Store: store}))
		defer func() { _ = registry.Close(context.Background()) }()

		ok, err := registry.GetTask("ok")
		require.NoError(t, err)
		assert.Equal(t, task.StatusSucceeded, ok.Status)
		assert.JSONEq(t, `{"branch":"main"}`, string(ok.Result))
		assert.True(t, done.Equal(*ok.CompletedAt))

		stuck, err := registry.GetTask("stuck")
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, stuck.Status)
		assert.Equal(t, task.ReasonProcessRestart, stuck.Error.Reason)

		onDisk, err := store.Load(t.Context())
		require.NoError(t, err)
		require.Len(t, onDisk.Tasks, 2)
		assert.Equal(t, task.StatusFailed, onDisk.Tasks[1].Status)
	})
}
