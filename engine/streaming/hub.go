package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/engine/workspace"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/romdo/go-debounce"
)

const (
	// Task updates within taskDebounceWait are coalesced, but one is sent at
	// least every taskDebounceMaxWait while changes keep coming.
	taskDebounceWait    = 50 * time.Millisecond
	taskDebounceMaxWait = 500 * time.Millisecond
	defaultBufferSize   = 32
)

// TaskLister supplies the task list sent with tasks.updated.
type TaskLister interface {
	ListTasks() []task.Task
}

type Option func(*Hub)

func WithTaskSource(src TaskLister) Option {
	return func(h *Hub) {
		h.tasks = src
	}
}

func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// Hub fans events out to in-process subscribers. Slow subscribers miss
// events rather than blocking publishers.
type Hub struct {
	mu         sync.Mutex
	subs       map[uint64]chan Event
	nextSub    uint64
	seq        uint64
	closed     bool
	bufferSize int
	tasks      TaskLister
	log        logger.Logger
	now        func() time.Time

	notifyTasks func()
	cancel      func()
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:       make(map[uint64]chan Event),
		bufferSize: defaultBufferSize,
		log:        logger.GetDefault(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.notifyTasks, h.cancel = debounce.NewWithMaxWait(taskDebounceWait, taskDebounceMaxWait, h.broadcastTasks)
	return h
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.bufferSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish encodes data and delivers it to every subscriber.
func (h *Hub) Publish(typ EventType, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.seq++
	event, err := NewEvent(h.seq, typ, data, h.now())
	if err != nil {
		return err
	}
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.log.Debug("Dropping event for slow subscriber", "subscriber", id, "type", typ)
		}
	}
	return nil
}

// TaskChanged schedules a debounced tasks.updated broadcast.
func (h *Hub) TaskChanged(_ context.Context, _ task.Change) {
	h.notifyTasks()
}

// PublishRepositories broadcasts a fresh workspace inventory.
func (h *Hub) PublishRepositories(ctx context.Context, inv workspace.Inventory) {
	if err := h.Publish(EventRepositoriesUpdated, inv); err != nil {
		logger.FromContext(ctx).Warn("Failed to publish repositories", "error", err)
	}
}

func (h *Hub) broadcastTasks() {
	if h.tasks == nil {
		return
	}
	if err := h.Publish(EventTasksUpdated, h.tasks.ListTasks()); err != nil {
		h.log.Warn("Failed to publish tasks", "error", err)
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops pending broadcasts and closes every subscriber channel.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
