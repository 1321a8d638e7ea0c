package task

import (
	"fmt"
	"time"
)

const stepInterruptedMessage = "Step interrupted by a process restart"

// Rehydrate fails a task left pending or running by a previous process, along
// with every step that had not finished. It reports whether t changed.
// Terminal tasks are left untouched.
func Rehydrate(t *Task, now time.Time) bool {
	if t.Steps == nil {
		t.Steps = []Step{}
	}
	if t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusFailed
	t.Error = &Failure{
		Reason:  ReasonProcessRestart,
		Message: fmt.Sprintf("%s was interrupted by a process restart", taskLabel(t)),
	}
	t.CompletedAt = timePtr(now)
	t.UpdatedAt = now
	for i := range t.Steps {
		step := &t.Steps[i]
		if step.Status.IsTerminal() {
			continue
		}
		step.Status = StepFailed
		step.CompletedAt = timePtr(now)
		step.Logs = append(step.Logs, newLogEntry(stepInterruptedMessage, now))
	}
	return true
}

func taskLabel(t *Task) string {
	if t.Title != "" {
		return t.Title
	}
	return fmt.Sprintf("Task %s", t.ID)
}
