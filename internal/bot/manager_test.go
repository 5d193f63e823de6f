package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/escalate"
	"github.com/sahaya-ai/sahaya/internal/handoff"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/nlu"
	"github.com/sahaya-ai/sahaya/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubMinter struct{}

func (stubMinter) MintOperatorToken(roomName, agentID, displayName string, ttl time.Duration) (string, error) {
	return "token", nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tracker := conv.NewTracker(nlu.New(), nil)
	hm := handoff.New(stubMinter{}, "wss://rtc.example.com", notify.New(nil, nil))
	adapter := pipeline.NewAdapter(tracker, escalate.New(nil), hm)
	return New(adapter)
}

func testDriver() conv.DriverInfo {
	return conv.DriverInfo{PhoneNumber: "+919876543210", Name: "Ravi Kumar"}
}

func TestJoin_StartsSessionAndTracking(t *testing.T) {
	m := newTestManager(t)
	defer m.Shutdown(context.Background())

	info, err := m.Join(context.Background(), "room-1", "call-1", testDriver())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if info.State != StateActive || !info.IsActive {
		t.Errorf("session = %+v, want active", info)
	}
	if info.RoomName != "room-1" || info.CallID != "call-1" {
		t.Errorf("session identity = %+v", info)
	}
	if m.adapter.Tracker().Count() != 1 {
		t.Errorf("tracker count = %d, want 1", m.adapter.Tracker().Count())
	}
}

func TestJoin_SecondJoinIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	first, err := m.Join(ctx, "room-1", "call-1", testDriver())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	second, err := m.Join(ctx, "room-1", "call-other", testDriver())
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if second.CallID != first.CallID {
		t.Errorf("second join created a new session: %+v", second)
	}
	if m.Count() != 1 {
		t.Errorf("session count = %d, want 1", m.Count())
	}
}

func TestJoin_RequiresRoomAndCall(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Join(context.Background(), "", "call-1", testDriver()); err == nil {
		t.Error("empty room: want error")
	}
	if _, err := m.Join(context.Background(), "room-1", "", testDriver()); err == nil {
		t.Error("empty call id: want error")
	}
}

func TestDeliver_RoutesToCallFeed(t *testing.T) {
	m := newTestManager(t)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	if _, err := m.Join(ctx, "room-1", "call-1", testDriver()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := m.Deliver(ctx, "room-1", pipeline.Event{Type: pipeline.EventTranscription, Text: "hello"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := m.Deliver(ctx, "room-missing", pipeline.Event{Type: pipeline.EventTranscription, Text: "x"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Deliver to empty room = %v, want ErrNoSession", err)
	}
}

func TestLeave_StopsSessionAndDropsConversation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Join(ctx, "room-1", "call-1", testDriver()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := m.Leave(ctx, "room-1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("session count after leave = %d, want 0", m.Count())
	}
	if m.adapter.Tracker().Count() != 0 {
		t.Errorf("tracker count after leave = %d, want 0", m.adapter.Tracker().Count())
	}
	if _, ok := m.Status("room-1"); ok {
		t.Error("Status still reports a session after leave")
	}

	if err := m.Leave(ctx, "room-1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("second leave = %v, want ErrNoSession", err)
	}
}

func TestList(t *testing.T) {
	m := newTestManager(t)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	for _, room := range []string{"room-1", "room-2", "room-3"} {
		if _, err := m.Join(ctx, room, "call-"+room, testDriver()); err != nil {
			t.Fatalf("Join %s: %v", room, err)
		}
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d sessions, want 3", len(list))
	}
	seen := make(map[string]bool)
	for _, info := range list {
		seen[info.RoomName] = true
		if !info.IsActive {
			t.Errorf("session %s not active: %+v", info.RoomName, info)
		}
	}
	if !seen["room-1"] || !seen["room-2"] || !seen["room-3"] {
		t.Errorf("rooms seen = %v", seen)
	}
}

func TestShutdown_StopsEverything(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, room := range []string{"room-1", "room-2"} {
		if _, err := m.Join(ctx, room, "call-"+room, testDriver()); err != nil {
			t.Fatalf("Join %s: %v", room, err)
		}
	}

	m.Shutdown(ctx)

	if m.Count() != 0 {
		t.Errorf("session count after shutdown = %d, want 0", m.Count())
	}
	if m.adapter.Tracker().Count() != 0 {
		t.Errorf("tracker count after shutdown = %d, want 0", m.adapter.Tracker().Count())
	}
}
