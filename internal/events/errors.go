package events

import "errors"

// Domain-specific errors for the event aggregator.
var (
	// ErrStreamClosed is returned by Receiver.Recv once the aggregator has
	// shut down and every buffered event has been drained.
	ErrStreamClosed = errors.New("events: stream closed")

	// ErrAlreadyStarted is returned when Start is called on an aggregator
	// that has been started before. An Aggregator is single-use.
	ErrAlreadyStarted = errors.New("events: aggregator already started")

	// ErrInvalidCapacity is returned for a channel capacity below 1.
	ErrInvalidCapacity = errors.New("events: channel capacity must be at least 1")

	// ErrBrokerConnectFailed wraps dial, timeout and subscribe failures.
	// It is logged and counted, never delivered to the consumer.
	ErrBrokerConnectFailed = errors.New("events: broker connection failed")

	// errSessionLost is used when a session reports loss without a cause.
	errSessionLost = errors.New("events: broker session lost")
)
