package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/dispatch"
)

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.fleet.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.fleet.Device(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice forgets a device until it is discovered again.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.fleet.RemoveDevice(id) {
		writeNotFound(w, "device not found")
		return
	}

	s.logger.Info("device removed via API", "device_id", id, "subject", subjectFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// handleDispatch invokes a device action. The optional body is a JSON object
// of parameter values; missing parameters take their defaults.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	var args map[string]any
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
			writeBadRequest(w, "body must be a JSON object of parameter values")
			return
		}
	}

	resp, err := s.fleet.Dispatch(r.Context(), id, action, args)
	if err != nil {
		s.logger.Debug("dispatch failed", "device_id", id, "action", action, "error", err)
		writeDispatchError(w, err)
		return
	}

	if resp.Kind == device.ResponseStream && resp.Stream != nil {
		s.writeStream(w, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeStream relays a Stream response body and closes it.
func (s *Server) writeStream(w http.ResponseWriter, resp *dispatch.Response) {
	defer resp.Stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Stream); err != nil {
		s.logger.Warn("stream relay interrupted", "device_id", resp.DeviceID, "action", resp.Action, "error", err)
	}
}

// handleDeviceEvents returns stored events of one device, newest first.
//
// Query parameters:
//   - window: how far back to look, as a Go duration (default 1h)
//   - limit: max results (default 50, max 1000)
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var window time.Duration
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeBadRequest(w, "window must be a positive duration such as 30m")
			return
		}
		window = d
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	records, err := s.history.EventHistory(r.Context(), id, window, limit)
	if err != nil {
		s.logger.Error("event history query failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "event history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"events":    records,
		"count":     len(records),
	})
}
