package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a device cannot be registered.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidDescriptor is returned when a device descriptor cannot be parsed.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrInvalidEvents is returned when an event payload is not an event catalogue.
	ErrInvalidEvents = errors.New("device: invalid events payload")

	// ErrInvalidParameter is returned when an action argument does not fit its schema.
	ErrInvalidParameter = errors.New("device: invalid parameter")
)
