package dispatch

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

// Errors returned by Dispatch. Check them with errors.Is; the two typed
// errors below also match their sentinel.
var (
	// ErrUnknownDevice is returned when the device ID is not registered.
	ErrUnknownDevice = errors.New("dispatch: unknown device")

	// ErrUnknownAction is returned when the device has no such action.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrPolicyBlocked is matched by *PolicyBlockedError.
	ErrPolicyBlocked = errors.New("dispatch: blocked by policy")

	// ErrInvalidParameter is returned when arguments do not fit the action schema.
	ErrInvalidParameter = errors.New("dispatch: invalid parameter")

	// ErrDeviceUnreachable is returned when the connection is refused or has no route.
	ErrDeviceUnreachable = errors.New("dispatch: device unreachable")

	// ErrRequestTimeout is returned when the request exceeds its deadline.
	ErrRequestTimeout = errors.New("dispatch: request timed out")

	// ErrRequestFailed is returned for other transport failures and for
	// non-2xx responses without a device error payload.
	ErrRequestFailed = errors.New("dispatch: request failed")

	// ErrMalformedResponse is returned when a response body does not match
	// the action's response kind.
	ErrMalformedResponse = errors.New("dispatch: malformed response")

	// ErrDeviceError is matched by *DeviceError.
	ErrDeviceError = errors.New("dispatch: device error")
)

// PolicyBlockedError reports the hazards that stopped an action.
// No request was sent.
type PolicyBlockedError struct {
	DeviceID string
	Action   string
	Hazards  hazard.Set
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("PolicyBlocked: action %q on device %q carries blocked hazards: %s",
		e.Action, e.DeviceID, e.Hazards)
}

// Is reports whether target is ErrPolicyBlocked.
func (e *PolicyBlockedError) Is(target error) bool {
	return target == ErrPolicyBlocked
}

// ErrorKind classifies a device-reported error.
type ErrorKind string

// ErrorKind constants as sent by devices.
const (
	ErrorKindInvalidData ErrorKind = "InvalidData"
	ErrorKindInternal    ErrorKind = "Internal"
)

// DeviceError is an error payload returned by the device itself:
//
//	{"error": "InvalidData", "description": "...", "info": "..."}
type DeviceError struct {
	DeviceID    string
	Action      string
	StatusCode  int
	Kind        ErrorKind
	Description string
	Info        string
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Description)
	if e.Info != "" {
		msg += " (" + e.Info + ")"
	}
	return fmt.Sprintf("dispatch: device %q action %q: %s", e.DeviceID, e.Action, msg)
}

// Is reports whether target is ErrDeviceError.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceError
}
