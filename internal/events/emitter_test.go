package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/resilience"
)

// backendRecorder captures every event POST the emitter sends.
type backendRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
	status   int
}

func newBackendRecorder() *backendRecorder {
	return &backendRecorder{status: http.StatusOK}
}

func (b *backendRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ai-agent/events" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		b.mu.Lock()
		b.payloads = append(b.payloads, payload)
		b.headers = append(b.headers, r.Header.Clone())
		status := b.status
		b.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (b *backendRecorder) received() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.payloads...)
}

func TestEmitter_HandoffRequest(t *testing.T) {
	t.Parallel()

	rec := newBackendRecorder()
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	e := New(srv.URL, WithAuthToken("backend-secret"))
	alert := &conv.HandoffAlert{
		ID:           "a1",
		CallID:       "call-1",
		Trigger:      conv.TriggerSafetyEmergency,
		Priority:     conv.PriorityUrgent,
		IssueSummary: "Safety Emergency: Safety or emergency situation",
	}

	if err := e.OnNewAlert(context.Background(), alert); err != nil {
		t.Fatalf("OnNewAlert: %v", err)
	}

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("backend received %d events, want 1", len(got))
	}
	p := got[0]
	if p["event"] != "handoff_request" || p["call_id"] != "call-1" {
		t.Errorf("payload = %v", p)
	}
	if p["reason"] != "safety_emergency" || p["priority"] != "urgent" {
		t.Errorf("payload = %v", p)
	}
	if auth := rec.headers[0].Get("Authorization"); auth != "Bearer backend-secret" {
		t.Errorf("authorization = %q", auth)
	}
}

func TestEmitter_AlertUpdate(t *testing.T) {
	t.Parallel()

	rec := newBackendRecorder()
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	e := New(srv.URL)
	alert := &conv.HandoffAlert{
		ID:              "a1",
		CallID:          "call-1",
		Status:          conv.StatusAssigned,
		AssignedAgentID: "agent_7",
	}
	if err := e.OnAlertUpdate(context.Background(), alert, "assigned"); err != nil {
		t.Fatalf("OnAlertUpdate: %v", err)
	}

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("backend received %d events, want 1", len(got))
	}
	p := got[0]
	if p["event"] != "handoff_update" || p["update"] != "assigned" || p["agent_id"] != "agent_7" {
		t.Errorf("payload = %v", p)
	}
}

func TestEmitter_NonOKStatusIsAnError(t *testing.T) {
	t.Parallel()

	rec := newBackendRecorder()
	rec.status = http.StatusBadGateway
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	e := New(srv.URL)
	err := e.OnNewAlert(context.Background(), &conv.HandoffAlert{ID: "a1", CallID: "call-1"})
	if err == nil {
		t.Fatal("want error on 502 response")
	}
}

func TestEmitter_BreakerTripsOnRepeatedFailures(t *testing.T) {
	t.Parallel()

	rec := newBackendRecorder()
	rec.status = http.StatusBadGateway
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	e := New(srv.URL)
	alert := &conv.HandoffAlert{ID: "a1", CallID: "call-1"}

	// Default breaker opens after five consecutive failures.
	for i := 0; i < 5; i++ {
		if err := e.OnNewAlert(context.Background(), alert); err == nil {
			t.Fatalf("attempt %d: want error", i)
		}
	}
	if got := len(rec.received()); got != 5 {
		t.Fatalf("backend received %d events before trip, want 5", got)
	}

	err := e.OnNewAlert(context.Background(), alert)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("after trip err = %v, want ErrCircuitOpen", err)
	}
	if got := len(rec.received()); got != 5 {
		t.Errorf("backend received %d events after trip, want still 5", got)
	}
}

func TestEmitter_UnreachableBackendDoesNotBlockCaller(t *testing.T) {
	t.Parallel()

	e := New("http://127.0.0.1:0")
	// Fire-and-forget helpers log the failure instead of returning it.
	e.EmitBotReady(context.Background(), "call-1")
	e.EmitCallEnded(context.Background(), "call-1", 7)
	e.EmitError(context.Background(), "call-1", "asr pipeline stalled")
}

func TestEmitter_CallEndedPayload(t *testing.T) {
	t.Parallel()

	rec := newBackendRecorder()
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	e := New(srv.URL)
	e.EmitCallEnded(context.Background(), "call-9", 12)

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("backend received %d events, want 1", len(got))
	}
	p := got[0]
	if p["event"] != "call_ended" || p["call_id"] != "call-9" {
		t.Errorf("payload = %v", p)
	}
	if turns, _ := p["turns"].(float64); turns != 12 {
		t.Errorf("turns = %v, want 12", p["turns"])
	}
}
