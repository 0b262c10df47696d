package controller

import "errors"

// Domain-specific errors for the controller.
var (
	// ErrEventsRunning is returned by StartEventReceivers while receivers
	// from a previous call are still running.
	ErrEventsRunning = errors.New("controller: event receivers already running")

	// ErrShutdown is returned by operations after Shutdown.
	ErrShutdown = errors.New("controller: shut down")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("controller: invalid options")
)
