package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/handoff"
)

// alertSummary is the queue-listing projection of an alert: enough for the
// dashboard table, none of the turn log.
type alertSummary struct {
	ID                   string           `json:"id"`
	ConversationID       string           `json:"conversation_id"`
	CallID               string           `json:"call_id"`
	Trigger              conv.Trigger     `json:"trigger"`
	Priority             conv.Priority    `json:"priority"`
	Status               conv.AlertStatus `json:"status"`
	DriverPhoneLast4     string           `json:"driver_phone_last_4"`
	DriverCity           string           `json:"driver_city,omitempty"`
	DriverLanguage       string           `json:"driver_language"`
	IssueSummary         string           `json:"issue_summary"`
	QueuePosition        int              `json:"queue_position"`
	EstimatedWaitSeconds int              `json:"estimated_wait_seconds"`
	AssignedAgentID      string           `json:"assigned_agent_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

func summarize(a *conv.HandoffAlert) alertSummary {
	return alertSummary{
		ID:                   a.ID,
		ConversationID:       a.ConversationID,
		CallID:               a.CallID,
		Trigger:              a.Trigger,
		Priority:             a.Priority,
		Status:               a.Status,
		DriverPhoneLast4:     a.Driver.PhoneLast4(),
		DriverCity:           a.Driver.City,
		DriverLanguage:       a.Driver.PreferredLanguage,
		IssueSummary:         a.IssueSummary,
		QueuePosition:        a.QueuePosition,
		EstimatedWaitSeconds: a.EstimatedWaitSeconds,
		AssignedAgentID:      a.AssignedAgentID,
		CreatedAt:            a.CreatedAt,
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	snapshot := s.manager.QueueSnapshot()
	out := make([]alertSummary, 0, len(snapshot))
	for _, a := range snapshot {
		out = append(out, summarize(a))
	}
	// The queue endpoint's contract is a bare ordered array, not an
	// envelope; dashboard clients index it directly.
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

// driverView is the operator-facing driver block: last four digits only,
// never the raw phone number.
type driverView struct {
	PhoneLast4       string `json:"phone_last_4"`
	Name             string `json:"name,omitempty"`
	City             string `json:"city,omitempty"`
	Language         string `json:"language"`
	SubscriptionPlan string `json:"subscription_plan,omitempty"`
}

// alertDetail is the full alert projection. The outer Driver field shadows
// the embedded one so the wire carries the masked view.
type alertDetail struct {
	*conv.HandoffAlert
	Driver driverView `json:"driver_info"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !handoff.ValidAlertID(id) {
		writeError(w, http.StatusBadRequest, "invalid alert id format")
		return
	}
	alert, ok := s.manager.Alert(id)
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alertDetail{
		HandoffAlert: alert,
		Driver: driverView{
			PhoneLast4:       alert.Driver.PhoneLast4(),
			Name:             alert.Driver.Name,
			City:             alert.Driver.City,
			Language:         alert.Driver.PreferredLanguage,
			SubscriptionPlan: alert.Driver.SubscriptionPlan,
		},
	})
}

func (s *Server) handleBrief(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !handoff.ValidAlertID(id) {
		writeError(w, http.StatusBadRequest, "invalid alert id format")
		return
	}
	brief, ok := s.manager.Brief(id)
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID string `json:"alert_id"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !handoff.ValidAlertID(req.AlertID) {
		writeError(w, http.StatusBadRequest, "invalid alert id format")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	alert, err := s.manager.AssignAgent(r.Context(), req.AlertID, req.AgentID)
	switch {
	case errors.Is(err, handoff.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
		return
	case errors.Is(err, handoff.ErrInvalidState):
		writeError(w, http.StatusConflict, "alert is no longer queued")
		return
	case err != nil:
		s.log.Error("assign failed", "alert_id", req.AlertID, "err", err)
		writeError(w, http.StatusInternalServerError, "assignment failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "assigned",
		"alert_id": alert.ID,
		"agent_id": alert.AssignedAgentID,
		"call_id":  alert.CallID,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !handoff.ValidAlertID(id) {
		writeError(w, http.StatusBadRequest, "invalid alert id format")
		return
	}

	info, err := s.manager.StartHandoffCall(r.Context(), id)
	switch {
	case errors.Is(err, handoff.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
		return
	case errors.Is(err, handoff.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "alert is not in assigned state")
		return
	case err != nil:
		s.log.Error("handoff start failed", "alert_id", id, "err", err)
		writeError(w, http.StatusBadGateway, "token minting failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID    string `json:"alert_id"`
		Resolution string `json:"resolution"`
		Notes      string `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !handoff.ValidAlertID(req.AlertID) {
		writeError(w, http.StatusBadRequest, "invalid alert id format")
		return
	}

	s.manager.CompleteHandoff(r.Context(), req.AlertID, req.Resolution, req.Notes)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "completed",
		"alert_id": req.AlertID,
	})
}

// handoffStatusResponse reports whether a call is in handoff and, when it
// is, where it stands.
type handoffStatusResponse struct {
	InHandoff            bool             `json:"in_handoff"`
	CallID               string           `json:"call_id"`
	Status               conv.AlertStatus `json:"status,omitempty"`
	QueuePosition        int              `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int              `json:"estimated_wait_seconds,omitempty"`
	AgentID              string           `json:"agent_id,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	status, ok := s.manager.Status(callID)
	if !ok {
		writeJSON(w, http.StatusOK, handoffStatusResponse{CallID: callID})
		return
	}
	writeJSON(w, http.StatusOK, handoffStatusResponse{
		InHandoff:            true,
		CallID:               callID,
		Status:               status.Status,
		QueuePosition:        status.QueuePosition,
		EstimatedWaitSeconds: status.EstimatedWaitSeconds,
		AgentID:              status.AgentID,
		StartedAt:            status.StartedAt,
	})
}
