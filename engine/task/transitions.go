package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	eventStart    = "start"
	eventSucceed  = "succeed"
	eventFail     = "fail"
	eventComplete = "complete"
	eventSkip     = "skip"
)

func taskEvents() fsm.Events {
	return fsm.Events{
		{Name: eventStart, Src: []string{string(StatusPending)}, Dst: string(StatusRunning)},
		{
			Name: eventSucceed,
			Src:  []string{string(StatusPending), string(StatusRunning)},
			Dst:  string(StatusSucceeded),
		},
		{
			Name: eventFail,
			Src:  []string{string(StatusPending), string(StatusRunning)},
			Dst:  string(StatusFailed),
		},
	}
}

func stepEvents() fsm.Events {
	return fsm.Events{
		{
			Name: eventStart,
			Src:  []string{string(StepPending), string(StepRunning)},
			Dst:  string(StepRunning),
		},
		{
			Name: eventComplete,
			Src:  []string{string(StepPending), string(StepRunning)},
			Dst:  string(StepSucceeded),
		},
		{
			Name: eventFail,
			Src:  []string{string(StepPending), string(StepRunning)},
			Dst:  string(StepFailed),
		},
		{Name: eventSkip, Src: []string{string(StepPending)}, Dst: string(StepSkipped)},
	}
}

func taskEventFor(target Status) (string, error) {
	switch target {
	case StatusRunning:
		return eventStart, nil
	case StatusSucceeded:
		return eventSucceed, nil
	case StatusFailed:
		return eventFail, nil
	default:
		return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidTransition, target)
	}
}

// advanceTask returns the status reached by moving current towards target.
// Moving to the current status is a no-op.
func advanceTask(ctx context.Context, current, target Status) (Status, error) {
	if current == target {
		return current, nil
	}
	event, err := taskEventFor(target)
	if err != nil {
		return current, err
	}
	next, err := fire(ctx, taskEvents(), string(current), event)
	if err != nil {
		return current, err
	}
	return Status(next), nil
}

func advanceStep(ctx context.Context, current StepStatus, event string) (StepStatus, error) {
	next, err := fire(ctx, stepEvents(), string(current), event)
	if err != nil {
		return current, err
	}
	return StepStatus(next), nil
}

func fire(ctx context.Context, events fsm.Events, current, event string) (string, error) {
	machine := fsm.NewFSM(current, events, fsm.Callbacks{})
	if err := machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		return current, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, event, current)
	}
	return machine.Current(), nil
}
