package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrInvalidTask is returned when a task has no requests or a negative timing.
	ErrInvalidTask = errors.New("scheduler: invalid task")

	// ErrTaskExists is returned when a task ID is already scheduled.
	ErrTaskExists = errors.New("scheduler: task already scheduled")

	// ErrClosed is returned by Schedule after Close.
	ErrClosed = errors.New("scheduler: closed")
)
