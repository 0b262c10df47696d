package api

import (
	"net/http"
)

// handleDiscover runs one discovery round and returns the devices found.
// Devices found earlier but absent now stay registered.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.fleet.Discover(r.Context())
	if err != nil {
		s.logger.Warn("discovery via API failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDiscoveryFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"found": found,
		"count": len(found),
		"known": len(s.fleet.Devices()),
	})
}

// handleGetPolicy returns the current hazard policy.
func (s *Server) handleGetPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.fleet.Policy().Snapshot())
}

// handleEventStates returns the event receiver state per device.
func (s *Server) handleEventStates(w http.ResponseWriter, _ *http.Request) {
	states := s.fleet.EventStates()
	out := make(map[string]string, len(states))
	for id, st := range states {
		out[id] = st.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receivers":         out,
		"websocket_clients": s.hub.ClientCount(),
	})
}
