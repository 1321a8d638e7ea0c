package streaming

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/engine/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLister struct {
	calls atomic.Int32
	tasks []task.Task
}

func (l *countingLister) ListTasks() []task.Task {
	l.calls.Add(1)
	return l.tasks
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_Publish(t *testing.T) {
	t.Run("Should deliver events to every subscriber with increasing ids", func(t *testing.T) {
		h := NewHub()
		defer h.Close()
		a, unsubA := h.Subscribe()
		defer unsubA()
		b, unsubB := h.Subscribe()
		defer unsubB()

		require.NoError(t, h.Publish(EventRepositoriesUpdated, map[string]int{"n": 1}))
		require.NoError(t, h.Publish(EventRepositoriesUpdated, map[string]int{"n": 2}))

		first := receive(t, a)
		second := receive(t, a)
		assert.Less(t, first.ID, second.ID)
		assert.JSONEq(t, `{"n":1}`, string(first.Data))
		assert.Equal(t, first, receive(t, b))
	})

	t.Run("Should drop events for full subscribers without blocking", func(t *testing.T) {
		h := NewHub(WithBufferSize(1))
		defer h.Close()
		ch, unsub := h.Subscribe()
		defer unsub()
		require.NoError(t, h.Publish(EventRepositoriesUpdated, 1))
		require.NoError(t, h.Publish(EventRepositoriesUpdated, 2))
		ev := receive(t, ch)
		assert.JSONEq(t, `1`, string(ev.Data))
		select {
		case <-ch:
			t.Fatal("expected overflow event to be dropped")
		default:
		}
	})

	t.Run("Should close channels on unsubscribe and on close", func(t *testing.T) {
		h := NewHub()
		ch, unsub := h.Subscribe()
		unsub()
		unsub()
		_, ok := <-ch
		assert.False(t, ok)
		assert.Zero(t, h.Subscribers())

		other, _ := h.Subscribe()
		h.Close()
		_, ok = <-other
		assert.False(t, ok)
		late, _ := h.Subscribe()
		_, ok = <-late
		assert.False(t, ok)
		assert.NoError(t, h.Publish(EventTasksUpdated, nil))
	})
}

func TestHub_TaskChanged(t *testing.T) {
	t.Run("Should coalesce bursts of task changes into one broadcast", func(t *testing.T) {
		lister := &countingLister{tasks: []task.Task{{Title: "demo", Status: task.StatusRunning}}}
		h := NewHub(WithTaskSource(lister))
		defer h.Close()
		ch, unsub := h.Subscribe()
		defer unsub()

		for range 10 {
			h.TaskChanged(t.Context(), task.Change{})
		}
		ev := receive(t, ch)
		assert.Equal(t, EventTasksUpdated, ev.Type)
		var tasks []task.Task
		require.NoError(t, json.Unmarshal(ev.Data, &tasks))
		require.Len(t, tasks, 1)
		assert.Equal(t, "demo", tasks[0].Title)

		time.Sleep(3 * taskDebounceWait)
		assert.Equal(t, int32(1), lister.calls.Load())
	})
}

func TestHub_PublishRepositories(t *testing.T) {
	t.Run("Should broadcast the inventory", func(t *testing.T) {
		h := NewHub()
		defer h.Close()
		ch, unsub := h.Subscribe()
		defer unsub()
		inv := workspace.Inventory{Root: "/ws", Organizations: []workspace.Organization{{Name: "acme"}}}
		h.PublishRepositories(t.Context(), inv)
		ev := receive(t, ch)
		assert.Equal(t, EventRepositoriesUpdated, ev.Type)
		var got workspace.Inventory
		require.NoError(t, json.Unmarshal(ev.Data, &got))
		assert.Equal(t, "acme", got.Organizations[0].Name)
	})
}
