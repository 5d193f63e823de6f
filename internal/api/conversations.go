package api

import "net/http"

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	calls := s.tracker.ActiveCalls()
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": calls,
		"count": len(calls),
	})
}

func (s *Server) handleConversationSummary(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	summary, ok := s.tracker.Summary(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
