package streaming

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates broadcast categories surfaced to clients.
type EventType string

const (
	EventTasksUpdated        EventType = "tasks.updated"
	EventRepositoriesUpdated EventType = "repositories.updated"
)

// Event is the transport representation delivered to subscribers.
type Event struct {
	ID        uint64          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent encodes data into an event.
func NewEvent(id uint64, typ EventType, data any, ts time.Time) (Event, error) {
	if typ == "" {
		return Event{}, fmt.Errorf("streaming: event type is required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("streaming: marshal payload: %w", err)
	}
	return Event{ID: id, Type: typ, Timestamp: ts.UTC(), Data: payload}, nil
}
