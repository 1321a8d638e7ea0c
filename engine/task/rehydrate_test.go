package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRehydrate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Should leave terminal tasks untouched", func(t *testing.T) {
		done := now.Add(-time.Hour)
		task := Task{ID: "a", Status: StatusSucceeded, CompletedAt: &done, Steps: []Step{{ID: "s", Status: StepSucceeded}}}
		assert.False(t, Rehydrate(&task, now))
		assert.Equal(t, done, *task.CompletedAt)
		assert.Nil(t, task.Error)
	})

	t.Run("Should fall back to the id when the task has no title", func(t *testing.T) {
		task := Task{ID: "abc", Status: StatusPending}
		assert.True(t, Rehydrate(&task, now))
		assert.Equal(t, "Task abc was interrupted by a process restart", task.Error.Message)
		assert.Equal(t, now, *task.CompletedAt)
		assert.NotNil(t, task.Steps)
	})

	t.Run("Should keep finished steps and fail the rest", func(t *testing.T) {
		task := Task{ID: "abc", Status: StatusRunning, Steps: []Step{
			{ID: "a", Status: StepSkipped},
			{ID: "b", Status: StepPending},
		}}
		Rehydrate(&task, now)
		assert.Equal(t, StepSkipped, task.Steps[0].Status)
		assert.Empty(t, task.Steps[0].Logs)
		assert.Equal(t, StepFailed, task.Steps[1].Status)
		assert.Equal(t, stepInterruptedMessage, task.Steps[1].Logs[0].Message)
	})
}
