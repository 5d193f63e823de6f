package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sahaya-ai/sahaya/internal/bot"
	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/escalate"
	"github.com/sahaya-ai/sahaya/internal/handoff"
	"github.com/sahaya-ai/sahaya/internal/nlu"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/pipeline"
)

type stubMinter struct{}

func (stubMinter) MintOperatorToken(roomName, agentID, displayName string, ttl time.Duration) (string, error) {
	return "token-" + roomName + "-" + agentID, nil
}

type harness struct {
	srv     *httptest.Server
	manager *handoff.Manager
	tracker *conv.Tracker
	bots    *bot.Manager
	hub     *Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tracker := conv.NewTracker(nlu.New(), nil)
	notifier := notify.New(nil, nil)
	manager := handoff.New(stubMinter{}, "wss://rtc.example.com", notifier)
	hub := NewHub(manager, nil, nil)
	notifier.Subscribe(hub)
	adapter := pipeline.NewAdapter(tracker, escalate.New(nil), manager)
	bots := bot.New(adapter)

	mux := http.NewServeMux()
	NewServer(manager, tracker, bots, hub, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		bots.Shutdown(context.Background())
		srv.Close()
	})

	return &harness{srv: srv, manager: manager, tracker: tracker, bots: bots, hub: hub}
}

// trigger enqueues an alert straight through the manager, bypassing the
// pipeline, so queue tests control trigger and priority exactly.
func (h *harness) trigger(t *testing.T, callID string, trig conv.Trigger, pri conv.Priority) *conv.HandoffAlert {
	t.Helper()
	state := &conv.ConversationState{
		ID:       "conv-" + callID,
		CallID:   callID,
		RoomName: "room-" + callID,
		Driver: conv.DriverInfo{
			PhoneNumber:       "+919876543210",
			Name:              "Ravi Kumar",
			City:              "Bengaluru",
			PreferredLanguage: "hi-IN",
		},
		CurrentSentiment: conv.SentimentNeutral,
	}
	alert, err := h.manager.TriggerHandoff(context.Background(), state, trig, pri)
	if err != nil {
		t.Fatalf("TriggerHandoff(%s): %v", callID, err)
	}
	return alert
}

func (h *harness) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode GET %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (h *harness) postJSON(t *testing.T, path string, body, v any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode POST %s: %v", path, err)
		}
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode POST %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestQueueEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// The endpoint returns the ordered alert array as the top-level JSON
	// value, with no envelope around it.
	var empty []alertSummary
	if status := h.getJSON(t, "/handoff/queue", &empty); status != http.StatusOK {
		t.Fatalf("empty queue status = %d", status)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty queue = %v, want []", empty)
	}

	high := h.trigger(t, "call-1", conv.TriggerExplicitRequest, conv.PriorityHigh)
	urgent := h.trigger(t, "call-2", conv.TriggerSafetyEmergency, conv.PriorityUrgent)

	var got []alertSummary
	h.getJSON(t, "/handoff/queue", &got)
	if len(got) != 2 {
		t.Fatalf("queue length = %d, want 2", len(got))
	}
	first := got[0]
	if first.ID != urgent.ID || first.Priority != conv.PriorityUrgent || first.QueuePosition != 1 {
		t.Errorf("head of queue = %+v, want urgent alert first", first)
	}
	if first.DriverPhoneLast4 != "3210" || first.DriverLanguage != "hi-IN" {
		t.Errorf("driver fields = %+v", first)
	}
	if got[1].ID != high.ID || got[1].QueuePosition != 2 {
		t.Errorf("second in queue = %+v", got[1])
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.trigger(t, "call-1", conv.TriggerSafetyEmergency, conv.PriorityUrgent)
	h.trigger(t, "call-2", conv.TriggerExplicitRequest, conv.PriorityHigh)

	var stats handoff.QueueStats
	if status := h.getJSON(t, "/handoff/queue/stats", &stats); status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.ByPriority["urgent"] != 1 || stats.ByPriority["high"] != 1 {
		t.Errorf("by_priority = %v", stats.ByPriority)
	}
	if stats.ByPriority["medium"] != 0 || stats.ByPriority["low"] != 0 {
		t.Errorf("by_priority missing zero buckets: %v", stats.ByPriority)
	}
}

func TestAlertEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alert := h.trigger(t, "call-1", conv.TriggerExplicitRequest, conv.PriorityHigh)

	var got map[string]any
	if status := h.getJSON(t, "/handoff/alert/"+alert.ID, &got); status != http.StatusOK {
		t.Fatalf("alert status = %d", status)
	}
	if got["id"] != alert.ID || got["call_id"] != "call-1" {
		t.Errorf("alert = %v", got)
	}
	driver, _ := got["driver_info"].(map[string]any)
	if driver["phone_last_4"] != "3210" {
		t.Errorf("driver_info = %v", driver)
	}
	if _, leaked := driver["phone_number"]; leaked {
		t.Error("raw phone number leaked on the wire")
	}
	if _, ok := got["detailed_summary"]; !ok {
		t.Error("detailed_summary missing from full projection")
	}

	var errBody errorBody
	if status := h.getJSON(t, "/handoff/alert/not-hex", &errBody); status != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", status)
	}
	missing := strings.Repeat("ab", 16)
	if status := h.getJSON(t, "/handoff/alert/"+missing, nil); status != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", status)
	}
}

func TestBriefEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alert := h.trigger(t, "call-1", conv.TriggerSafetyEmergency, conv.PriorityUrgent)

	var brief conv.AgentBrief
	if status := h.getJSON(t, "/handoff/alert/"+alert.ID+"/brief", &brief); status != http.StatusOK {
		t.Fatalf("brief status = %d", status)
	}
	if brief.DriverPhoneLast4 != "3210" || brief.DriverName != "Ravi Kumar" {
		t.Errorf("brief driver = %+v", brief)
	}
	if brief.EscalationReason != "Safety Emergency" {
		t.Errorf("escalation reason = %q", brief.EscalationReason)
	}
}

func TestAssignStartCompleteFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alert := h.trigger(t, "call-1", conv.TriggerExplicitRequest, conv.PriorityHigh)

	var assigned map[string]any
	status := h.postJSON(t, "/handoff/assign", map[string]string{
		"alert_id": alert.ID,
		"agent_id": "agent_7",
	}, &assigned)
	if status != http.StatusOK {
		t.Fatalf("assign status = %d: %v", status, assigned)
	}
	if assigned["status"] != "assigned" || assigned["agent_id"] != "agent_7" {
		t.Errorf("assign response = %v", assigned)
	}

	// Second assignment hits an alert that is no longer queued.
	status = h.postJSON(t, "/handoff/assign", map[string]string{
		"alert_id": alert.ID,
		"agent_id": "agent_8",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("double assign status = %d, want 409", status)
	}

	var info handoff.TransferInfo
	if status := h.postJSON(t, "/handoff/start/"+alert.ID, nil, &info); status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}
	if info.JoinToken != "token-room-call-1-agent_7" {
		t.Errorf("join token = %q", info.JoinToken)
	}
	if info.RoomName != "room-call-1" || info.AgentID != "agent_7" {
		t.Errorf("transfer info = %+v", info)
	}

	var completed map[string]any
	status = h.postJSON(t, "/handoff/complete", map[string]string{
		"alert_id":   alert.ID,
		"resolution": "resolved",
	}, &completed)
	if status != http.StatusOK || completed["status"] != "completed" {
		t.Errorf("complete = %d %v", status, completed)
	}
	if h.manager.CompletedCount() != 1 {
		t.Errorf("completed count = %d, want 1", h.manager.CompletedCount())
	}
}

func TestAssignValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status := h.postJSON(t, "/handoff/assign", map[string]string{
		"alert_id": "nope",
		"agent_id": "agent_7",
	}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("malformed alert id status = %d, want 400", status)
	}

	status = h.postJSON(t, "/handoff/assign", map[string]string{
		"alert_id": strings.Repeat("ab", 16),
	}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("missing agent id status = %d, want 400", status)
	}

	status = h.postJSON(t, "/handoff/assign", map[string]string{
		"alert_id": strings.Repeat("ab", 16),
		"agent_id": "agent_7",
	}, nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown alert status = %d, want 404", status)
	}
}

func TestStartRequiresAssignment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alert := h.trigger(t, "call-1", conv.TriggerExplicitRequest, conv.PriorityHigh)

	if status := h.postJSON(t, "/handoff/start/"+alert.ID, nil, nil); status != http.StatusNotFound {
		t.Errorf("start while queued status = %d, want 404", status)
	}
	if status := h.postJSON(t, "/handoff/start/"+strings.Repeat("cd", 16), nil, nil); status != http.StatusNotFound {
		t.Errorf("start unknown status = %d, want 404", status)
	}
}

func TestHandoffStatusEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.trigger(t, "call-1", conv.TriggerExplicitRequest, conv.PriorityHigh)

	var queued handoffStatusResponse
	h.getJSON(t, "/handoff/status/call-1", &queued)
	if !queued.InHandoff || queued.Status != conv.StatusQueued {
		t.Errorf("queued status = %+v", queued)
	}
	if queued.QueuePosition != 1 || queued.EstimatedWaitSeconds != 60 {
		t.Errorf("queue placement = %+v", queued)
	}

	var none handoffStatusResponse
	h.getJSON(t, "/handoff/status/call-other", &none)
	if none.InHandoff || none.CallID != "call-other" {
		t.Errorf("no-handoff status = %+v", none)
	}
}

func TestConversationEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.tracker.Create("call-1", "room-1", conv.DriverInfo{PhoneNumber: "+919876543210"})
	h.tracker.AddUserTurn("call-1", "where is my payment")

	var list struct {
		Calls []string `json:"calls"`
		Count int      `json:"count"`
	}
	h.getJSON(t, "/conversations", &list)
	if list.Count != 1 || len(list.Calls) != 1 || list.Calls[0] != "call-1" {
		t.Errorf("conversations = %+v", list)
	}

	var summary conv.TrackerSummary
	if status := h.getJSON(t, "/conversations/call-1/summary", &summary); status != http.StatusOK {
		t.Fatalf("summary status = %d", status)
	}
	if summary.CallID != "call-1" || summary.TurnCount != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if status := h.getJSON(t, "/conversations/call-x/summary", nil); status != http.StatusNotFound {
		t.Errorf("unknown call summary status = %d, want 404", status)
	}
}

func TestBotEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var joined map[string]any
	status := h.postJSON(t, "/bot/join", map[string]any{
		"room_name":   "room-1",
		"call_id":     "call-1",
		"driver_info": map[string]any{"phone_number": "+919876543210"},
	}, &joined)
	if status != http.StatusOK {
		t.Fatalf("join status = %d: %v", status, joined)
	}
	if joined["success"] != true || joined["room_name"] != "room-1" {
		t.Errorf("join response = %v", joined)
	}

	var active bot.SessionInfo
	h.getJSON(t, "/bot/status/room-1", &active)
	if !active.IsActive || active.CallID != "call-1" {
		t.Errorf("bot status = %+v", active)
	}

	var missing map[string]any
	h.getJSON(t, "/bot/status/room-x", &missing)
	if missing["is_active"] != false || missing["state"] != "not_found" {
		t.Errorf("missing bot status = %v", missing)
	}

	var list map[string]any
	h.getJSON(t, "/bot/list", &list)
	if count, _ := list["count"].(float64); count != 1 {
		t.Errorf("bot list = %v", list)
	}

	var left map[string]any
	status = h.postJSON(t, "/bot/leave", map[string]string{"room_name": "room-1"}, &left)
	if status != http.StatusOK || left["success"] != true {
		t.Errorf("leave = %d %v", status, left)
	}

	// Leaving again is still a success so teardown can be retried.
	status = h.postJSON(t, "/bot/leave", map[string]string{"room_name": "room-1"}, &left)
	if status != http.StatusOK || left["message"] != "no bot in room" {
		t.Errorf("second leave = %d %v", status, left)
	}

	if status := h.postJSON(t, "/bot/join", map[string]string{"room_name": "room-1"}, nil); status != http.StatusBadRequest {
		t.Errorf("join without call id status = %d, want 400", status)
	}
}
