package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/dispatch"
	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Hazards lists the blocking hazards of a policy_blocked error.
	Hazards *hazard.Set `json:"hazards,omitempty"`
	// Device carries a device-reported error.
	Device *deviceErrorBody `json:"device_error,omitempty"`
}

type deviceErrorBody struct {
	Kind        dispatch.ErrorKind `json:"kind"`
	Description string             `json:"description"`
	Info        string             `json:"info,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodePolicyBlocked   = "policy_blocked"
	ErrCodeDeviceError     = "device_error"
	ErrCodeBadGateway      = "bad_gateway"
	ErrCodeTimeout         = "timeout"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeDiscoveryFailed = "discovery_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="fleet"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDispatchError maps a dispatch failure to its HTTP status.
func writeDispatchError(w http.ResponseWriter, err error) {
	var blocked *dispatch.PolicyBlockedError
	var devErr *dispatch.DeviceError

	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusForbidden, Error{
			Status:  http.StatusForbidden,
			Code:    ErrCodePolicyBlocked,
			Message: err.Error(),
			Hazards: &blocked.Hazards,
		})
	case errors.Is(err, dispatch.ErrUnknownDevice), errors.Is(err, dispatch.ErrUnknownAction),
		errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, dispatch.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &devErr):
		writeJSON(w, http.StatusBadGateway, Error{
			Status:  http.StatusBadGateway,
			Code:    ErrCodeDeviceError,
			Message: err.Error(),
			Device:  &deviceErrorBody{Kind: devErr.Kind, Description: devErr.Description, Info: devErr.Info},
		})
	case errors.Is(err, dispatch.ErrRequestTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, dispatch.ErrDeviceUnreachable), errors.Is(err, dispatch.ErrRequestFailed),
		errors.Is(err, dispatch.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
