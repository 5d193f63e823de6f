package api

import (
	"errors"
	"net/http"

	"github.com/sahaya-ai/sahaya/internal/bot"
	"github.com/sahaya-ai/sahaya/internal/conv"
)

func (s *Server) handleBotJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string          `json:"room_name"`
		CallID   string          `json:"call_id"`
		Driver   conv.DriverInfo `json:"driver_info"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.bots.Join(r.Context(), req.RoomName, req.CallID, req.Driver)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "bot joined room",
		"room_name": info.RoomName,
		"session":   info,
	})
}

func (s *Server) handleBotLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string `json:"room_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomName == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}

	// Leaving a room without a bot still succeeds so the platform can
	// retry call teardown safely.
	msg := "bot left room"
	if err := s.bots.Leave(r.Context(), req.RoomName); err != nil {
		if !errors.Is(err, bot.ErrNoSession) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		msg = "no bot in room"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   msg,
		"room_name": req.RoomName,
	})
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room_name")
	info, ok := s.bots.Status(roomName)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"room_name": roomName,
			"is_active": false,
			"state":     "not_found",
		})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBotList(w http.ResponseWriter, r *http.Request) {
	list := s.bots.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"bots":  list,
		"count": len(list),
	})
}
