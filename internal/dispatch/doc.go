// Package dispatch invokes device actions behind the hazard policy.
//
// A dispatch resolves the device and action in the registry, evaluates the
// current policy against the action's hazards and, only when nothing is
// blocked, sends exactly one HTTP request. Responses are classified by the
// action's declared response kind (Ok, Serial, Info, Stream); device error
// payloads become *DeviceError.
//
// Errors form a closed taxonomy checked with errors.Is: ErrUnknownDevice,
// ErrUnknownAction, ErrPolicyBlocked (*PolicyBlockedError, carrying the
// blocked hazards), ErrInvalidParameter, ErrDeviceUnreachable,
// ErrRequestTimeout, ErrRequestFailed, ErrMalformedResponse and
// ErrDeviceError. A policy block is never reported as a transport failure.
package dispatch
