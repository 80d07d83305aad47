package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/carevox/carevox/pkg/core"
	"github.com/carevox/carevox/pkg/core/escalation"
	"github.com/carevox/carevox/pkg/core/types"
	"github.com/carevox/carevox/pkg/gateway/config"
)

// EscalationsHandler serves the escalation lifecycle REST surface.
type EscalationsHandler struct {
	Config     config.Config
	Manager    *escalation.Manager
	Repository *escalation.Repository
}

func (h EscalationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h EscalationsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StaffID string `json:"staff_id"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.StaffID) == "" {
		writeError(w, r, core.NewInvalidRequestError("staff_id is required"))
		return
	}

	ev, err := h.Manager.Acknowledge(r.Context(), r.PathValue("id"), req.StaffID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h EscalationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StaffID          string `json:"staff_id"`
		Resolution       string `json:"resolution"`
		FollowUpRequired bool   `json:"follow_up_required,omitempty"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.StaffID) == "" {
		writeError(w, r, core.NewInvalidRequestError("staff_id is required"))
		return
	}
	if strings.TrimSpace(req.Resolution) == "" {
		writeError(w, r, core.NewInvalidRequestError("resolution is required"))
		return
	}

	ev, err := h.Manager.Resolve(r.Context(), r.PathValue("id"), req.StaffID, req.Resolution, req.FollowUpRequired)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListForConversation returns the full escalation history of one call in
// trigger order, straight from the durable repository.
func (h EscalationsHandler) ListForConversation(w http.ResponseWriter, r *http.Request) {
	events, err := h.Repository.FindByConversationID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Escalations []*types.EscalationEvent `json:"escalations"`
	}{events})
}

// Metrics aggregates escalation statistics over a date range. The range
// defaults to the trailing 24 hours.
func (h EscalationsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, core.NewInvalidRequestError("start must be RFC 3339"))
			return
		}
		start = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, core.NewInvalidRequestError("end must be RFC 3339"))
			return
		}
		end = t
	}
	if !end.After(start) {
		writeError(w, r, core.NewInvalidRequestError("end must be after start"))
		return
	}

	m, err := h.Manager.GetMetrics(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
