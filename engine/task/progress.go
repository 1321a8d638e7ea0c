package task

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/agentrix/engine/core"
	"github.com/google/uuid"
)

// StepUpdate carries an optional new label and the log line for a step change.
type StepUpdate struct {
	Label   string
	Message string
}

// StepProgress records step transitions for a single task.
type StepProgress struct {
	registry *Registry
	taskID   core.ID
}

func (p *StepProgress) TaskID() core.ID {
	return p.taskID
}

// EnsureStep appends a pending step unless one with the same id exists.
func (p *StepProgress) EnsureStep(id, label string) error {
	_, err := p.registry.mutate(context.Background(), p.taskID, func(t *Task, _ time.Time) error {
		if t.stepIndex(id) >= 0 {
			return errUnchanged
		}
		t.Steps = append(t.Steps, Step{ID: id, Label: label, Status: StepPending, Logs: []LogEntry{}})
		return nil
	})
	return err
}

func (p *StepProgress) StartStep(id string, update StepUpdate) error {
	return p.transition(id, eventStart, update, "Step started")
}

func (p *StepProgress) CompleteStep(id string, update StepUpdate) error {
	return p.transition(id, eventComplete, update, "Step completed")
}

// FailStep marks the step failed. It does nothing when the step is already terminal.
func (p *StepProgress) FailStep(id string, update StepUpdate) error {
	return p.transition(id, eventFail, update, "Step failed")
}

// SkipStep moves a pending step straight to skipped.
func (p *StepProgress) SkipStep(id string, update StepUpdate) error {
	return p.transition(id, eventSkip, update, "Step skipped")
}

func (p *StepProgress) transition(id, event string, update StepUpdate, fallback string) error {
	ctx := context.Background()
	_, err := p.registry.mutate(ctx, p.taskID, func(t *Task, now time.Time) error {
		idx := t.stepIndex(id)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrStepNotFound, id)
		}
		step := &t.Steps[idx]
		if event == eventFail && step.Status.IsTerminal() {
			return errUnchanged
		}
		next, err := advanceStep(ctx, step.Status, event)
		if err != nil {
			return fmt.Errorf("step %s: %w", id, err)
		}
		step.Status = next
		if update.Label != "" {
			step.Label = update.Label
		}
		if next == StepRunning && step.StartedAt == nil {
			step.StartedAt = timePtr(now)
		}
		if next.IsTerminal() && step.CompletedAt == nil {
			step.CompletedAt = timePtr(now)
		}
		message := update.Message
		if message == "" {
			message = fallback
		}
		step.Logs = append(step.Logs, newLogEntry(message, now))
		return nil
	})
	return err
}

func newLogEntry(message string, now time.Time) LogEntry {
	return LogEntry{ID: uuid.NewString(), Message: message, Timestamp: now}
}
