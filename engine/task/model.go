package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"dario.cat/mergo"
	"github.com/compozy/agentrix/engine/core"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// Failure reasons recorded by the registry itself.
const (
	ReasonProcessRestart = "process_restart"
	ReasonExecutorError  = "executor_error"
)

// Task is one durable unit of work.
type Task struct {
	ID          core.ID         `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *Failure        `json:"error,omitempty"`
	Steps       []Step          `json:"steps"`
}

// Failure is the machine reason and human message of a failed task.
type Failure struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type Step struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Logs        []LogEntry `json:"logs"`
}

type LogEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata holds the fields shared by workflows plus free-form Extras.
// It serializes as a single flat object.
type Metadata struct {
	Org        string         `json:"org,omitempty"`
	Repo       string         `json:"repo,omitempty"`
	Branch     string         `json:"branch,omitempty"`
	BaseBranch string         `json:"baseBranch,omitempty"`
	Command    string         `json:"command,omitempty"`
	Extras     map[string]any `json:"-"`
}

type metadataFields Metadata

var knownMetadataKeys = map[string]struct{}{
	"org":        {},
	"repo":       {},
	"branch":     {},
	"baseBranch": {},
	"command":    {},
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extras) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(m.Extras)+len(knownMetadataKeys))
	for k, v := range m.Extras {
		if _, reserved := knownMetadataKeys[k]; !reserved {
			merged[k] = v
		}
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Metadata{}
		return nil
	}
	var fields metadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	for k := range knownMetadataKeys {
		delete(raw, k)
	}
	*m = Metadata(fields)
	if len(raw) > 0 {
		m.Extras = raw
	}
	return nil
}

// Merge folds the non-empty known fields of patch into m. Extras keys are
// replaced whole, never merged into the previous value.
func (m *Metadata) Merge(patch Metadata) error {
	extras := patch.Extras
	patch.Extras = nil
	if err := mergo.Merge(m, patch, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge metadata: %w", err)
	}
	if len(extras) == 0 {
		return nil
	}
	if m.Extras == nil {
		m.Extras = make(map[string]any, len(extras))
	}
	maps.Copy(m.Extras, core.CopyMap(extras))
	return nil
}

// Extra returns a single extras value.
func (m Metadata) Extra(key string) (any, bool) {
	v, ok := m.Extras[key]
	return v, ok
}

func (m Metadata) clone() Metadata {
	m.Extras = core.CopyMap(m.Extras)
	return m
}

// Patch is a partial update to a task.
type Patch struct {
	Status   Status
	Error    *Failure
	Metadata *Metadata
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() Task {
	out := *t
	out.Metadata = t.Metadata.clone()
	out.CompletedAt = copyTime(t.CompletedAt)
	if t.Result != nil {
		out.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Error != nil {
		failure := *t.Error
		out.Error = &failure
	}
	out.Steps = make([]Step, len(t.Steps))
	for i := range t.Steps {
		out.Steps[i] = t.Steps[i].clone()
	}
	return out
}

// Step returns the step with the given id.
func (t *Task) Step(id string) (Step, bool) {
	if idx := t.stepIndex(id); idx >= 0 {
		return t.Steps[idx], true
	}
	return Step{}, false
}

func (t *Task) stepIndex(id string) int {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Step) clone() Step {
	s.StartedAt = copyTime(s.StartedAt)
	s.CompletedAt = copyTime(s.CompletedAt)
	s.Logs = append(make([]LogEntry, 0, len(s.Logs)), s.Logs...)
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
