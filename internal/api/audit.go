package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-fleet/internal/audit"
)

// handleListAudit returns paginated dispatch audit entries, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - action: filter by action name
//   - outcome: allowed, blocked or failed
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Action:   q.Get("action"),
		Outcome:  audit.Outcome(q.Get("outcome")),
	}
	switch filter.Outcome {
	case "", audit.OutcomeAllowed, audit.OutcomeBlocked, audit.OutcomeFailed:
	default:
		writeBadRequest(w, "outcome must be allowed, blocked or failed")
		return
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
