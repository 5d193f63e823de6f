package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sahaya-ai/sahaya/internal/config"
	"github.com/sahaya-ai/sahaya/internal/conv"
)

type stubMinter struct{}

func (stubMinter) MintOperatorToken(roomName, agentID, displayName string, ttl time.Duration) (string, error) {
	return "token", nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Room: config.RoomConfig{
			JoinURL:   "wss://rtc.example.com",
			APIKey:    "key-1",
			APISecret: "secret-1",
		},
	}
}

func TestNew_WiresEverySurface(t *testing.T) {
	a, err := New(testConfig(), WithMinter(stubMinter{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/handoff/queue", "/bot/list", "/conversations"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNew_RequiresRoomCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Room.APIKey = ""
	cfg.Room.APISecret = ""

	if _, err := New(cfg); err == nil {
		t.Fatal("want error without room credentials or injected minter")
	}
}

func TestApp_BotJoinFeedsDashboardQueue(t *testing.T) {
	a, err := New(testConfig(), WithMinter(stubMinter{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	// Join a bot and escalate its conversation straight through the queue.
	resp, err := http.Post(srv.URL+"/bot/join", "application/json",
		jsonBody(t, map[string]any{
			"room_name":   "room-1",
			"call_id":     "call-1",
			"driver_info": map[string]any{"phone_number": "+919876543210"},
		}))
	if err != nil {
		t.Fatalf("POST /bot/join: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d", resp.StatusCode)
	}

	state := &conv.ConversationState{
		ID:     "conv-1",
		CallID: "call-esc",
		Driver: conv.DriverInfo{PhoneNumber: "+919876543210"},
	}
	if _, err := a.Queue().TriggerHandoff(context.Background(), state, conv.TriggerExplicitRequest, conv.PriorityHigh); err != nil {
		t.Fatalf("TriggerHandoff: %v", err)
	}

	var queue []map[string]any
	getJSON(t, srv.URL+"/handoff/queue", &queue)
	if len(queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(queue))
	}

	var convs struct {
		Count int `json:"count"`
	}
	getJSON(t, srv.URL+"/conversations", &convs)
	if convs.Count != 1 {
		t.Errorf("conversation count = %d, want 1", convs.Count)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a, err := New(testConfig(), WithMinter(stubMinter{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
