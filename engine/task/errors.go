package task

import "errors"

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrStepNotFound          = errors.New("step not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTaskTerminal          = errors.New("task already reached a terminal state")
	ErrPersistenceConfigured = errors.New("task persistence already configured")
	ErrPersistenceClosed     = errors.New("task persistence closed")
	ErrNilExecutor           = errors.New("task executor is required")

	// errUnchanged tells mutate that the callback made no change.
	errUnchanged = errors.New("unchanged")
)
