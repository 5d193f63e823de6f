// Package api serves the REST and WebSocket surfaces consumed by operator
// dashboards and the platform backend: the handoff queue and lifecycle,
// live-conversation monitoring, and bot session control.
//
// JSON conventions follow the rest of the platform: lowercase snake_case
// keys, ISO-8601 UTC timestamps, errors as {"error": "..."}.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sahaya-ai/sahaya/internal/bot"
	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/handoff"
)

// Server holds the handler dependencies. Construct with [NewServer] and
// mount with [Server.Register].
type Server struct {
	manager *handoff.Manager
	tracker *conv.Tracker
	bots    *bot.Manager
	hub     *Hub
	log     *slog.Logger
}

// NewServer wires the API against its collaborators. hub may be nil when
// the dashboard WebSocket is not served.
func NewServer(manager *handoff.Manager, tracker *conv.Tracker, bots *bot.Manager, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		manager: manager,
		tracker: tracker,
		bots:    bots,
		hub:     hub,
		log:     log,
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /handoff/queue", s.handleQueue)
	mux.HandleFunc("GET /handoff/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /handoff/alert/{id}", s.handleAlert)
	mux.HandleFunc("GET /handoff/alert/{id}/brief", s.handleBrief)
	mux.HandleFunc("POST /handoff/assign", s.handleAssign)
	mux.HandleFunc("POST /handoff/start/{id}", s.handleStart)
	mux.HandleFunc("POST /handoff/complete", s.handleComplete)
	mux.HandleFunc("GET /handoff/status/{call_id}", s.handleStatus)

	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.HandleFunc("GET /conversations/{call_id}/summary", s.handleConversationSummary)

	mux.HandleFunc("POST /bot/join", s.handleBotJoin)
	mux.HandleFunc("POST /bot/leave", s.handleBotLeave)
	mux.HandleFunc("GET /bot/status/{room_name}", s.handleBotStatus)
	mux.HandleFunc("GET /bot/list", s.handleBotList)

	if s.hub != nil {
		mux.HandleFunc("GET /handoff/dashboard/{agent_id}", s.hub.handleDashboard)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody parses the request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
