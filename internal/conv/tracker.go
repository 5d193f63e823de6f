package conv

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Tracker owns the call_id → ConversationState mapping for every live call.
// All methods are safe for concurrent use; per-call writes are expected to
// arrive from a single pipeline consumer (§ the adapter), so the lock here
// guards cross-call access, not turn ordering.
type Tracker struct {
	mu       sync.RWMutex
	states   map[string]*ConversationState
	analyzer Analyzer
	log      *slog.Logger
	now      func() time.Time
}

// NewTracker returns an empty tracker. The analyzer classifies user turns;
// a nil logger falls back to slog.Default().
func NewTracker(analyzer Analyzer, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		states:   make(map[string]*ConversationState),
		analyzer: analyzer,
		log:      log,
		now:      time.Now,
	}
}

// Create registers a new conversation for callID. A duplicate registration
// keeps the existing state untouched and logs a warning; no overwrite.
func (t *Tracker) Create(callID, roomName string, driver DriverInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[callID]; ok {
		t.log.Warn("conversation already tracked", "call_id", callID)
		return
	}
	now := t.now().UTC()
	t.states[callID] = &ConversationState{
		ID:               NewID(),
		CallID:           callID,
		RoomName:         roomName,
		Driver:           driver.Normalize(),
		CurrentSentiment: SentimentNeutral,
		SentimentTrend:   TrendStable,
		StartedAt:        now,
		LastActivityAt:   now,
	}
	t.log.Info("conversation tracking started", "call_id", callID, "room", roomName)
}

// AddUserTurn appends a user turn after running NLU analysis against the
// state as it stood before this turn. The normalized content always lands
// on the query history so the next turn compares against it. Unknown call
// IDs are a logged no-op.
func (t *Tracker) AddUserTurn(callID, content string) (NLUResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[callID]
	if !ok {
		t.log.Warn("no conversation for call", "call_id", callID)
		return NLUResult{}, false
	}
	res := t.analyzer.Analyze(content, s)
	if res.IsRepeatQuery {
		s.LastRepeatedQuery = content
	}
	s.addTurn(NewID(), RoleUser, content, &res, t.now().UTC())
	s.pushQuery(NormalizeQuery(content))
	t.log.Debug("user turn recorded",
		"call_id", callID,
		"intent", res.Intent,
		"sentiment", res.Sentiment,
		"repeat", res.IsRepeatQuery,
	)
	return res, true
}

// AddAssistantTurn appends an assistant turn. No NLU runs on bot output.
func (t *Tracker) AddAssistantTurn(callID, content string, toolCalls ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[callID]
	if !ok {
		t.log.Warn("no conversation for call", "call_id", callID)
		return false
	}
	turn := s.addTurn(NewID(), RoleAssistant, content, nil, t.now().UTC())
	if len(toolCalls) > 0 {
		turn.ToolCalls = append([]string(nil), toolCalls...)
	}
	return true
}

// RecordToolCall notes a tool outcome for the call. Only the success and
// failure counters and the action log move; the raw result payload is
// interpreted by the caller, not retained here.
func (t *Tracker) RecordToolCall(callID, tool string, success bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[callID]
	if !ok {
		t.log.Warn("no conversation for call", "call_id", callID)
		return false
	}
	s.recordToolCall(tool, success, t.now().UTC())
	t.log.Debug("tool call recorded", "call_id", callID, "tool", tool, "success", success)
	return true
}

// WithState runs fn against the live state under the tracker's write lock.
// fn must not retain the pointer past its return. The escalation check uses
// this to read signals and store the fresh confidence atomically.
func (t *Tracker) WithState(callID string, fn func(*ConversationState)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[callID]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Snapshot returns a deep copy of the state for callID.
func (t *Tracker) Snapshot(callID string) (*ConversationState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[callID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Remove pops the conversation and returns its final snapshot.
func (t *Tracker) Remove(callID string) (*ConversationState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[callID]
	if !ok {
		return nil, false
	}
	delete(t.states, callID)
	t.log.Info("conversation tracking ended", "call_id", callID, "turns", s.TurnCount)
	return s, true
}

// ActiveCalls lists tracked call IDs in no particular order.
func (t *Tracker) ActiveCalls() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.states))
	for id := range t.states {
		out = append(out, id)
	}
	return out
}

// Count returns the number of live conversations.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// ToolCallSummary aggregates outcomes for one tool.
type ToolCallSummary struct {
	Count   int `json:"count"`
	Success int `json:"success"`
}

// TrackerSummary is the read-only monitoring projection of a live
// conversation.
type TrackerSummary struct {
	CallID               string                     `json:"call_id"`
	TurnCount            int                        `json:"turn_count"`
	Sentiment            Sentiment                  `json:"sentiment"`
	SentimentScore       float64                    `json:"sentiment_score"`
	SentimentTrend       Trend                      `json:"sentiment_trend"`
	CurrentIntent        Intent                     `json:"current_intent,omitempty"`
	HighRiskIntents      []Intent                   `json:"high_risk_intents"`
	RepeatCount          int                        `json:"repeat_count"`
	ToolCalls            map[string]ToolCallSummary `json:"tool_calls"`
	LastQueries          []string                   `json:"last_queries"`
	EscalationConfidence float64                    `json:"escalation_confidence"`
	EscalationTriggered  bool                       `json:"escalation_triggered"`
	DurationSeconds      float64                    `json:"duration_seconds"`
}

// Summary projects the conversation into its monitoring view: counts,
// sentiment, per-tool outcomes and the last five user queries.
func (t *Tracker) Summary(callID string) (*TrackerSummary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[callID]
	if !ok {
		return nil, false
	}

	tools := make(map[string]ToolCallSummary)
	for _, a := range s.ActionsTaken {
		name, found := strings.CutPrefix(a.Action, "tool_call:")
		if !found {
			continue
		}
		agg := tools[name]
		agg.Count++
		if a.Success {
			agg.Success++
		}
		tools[name] = agg
	}

	return &TrackerSummary{
		CallID:               s.CallID,
		TurnCount:            s.TurnCount,
		Sentiment:            s.CurrentSentiment,
		SentimentScore:       s.SentimentScore,
		SentimentTrend:       s.SentimentTrend,
		CurrentIntent:        s.CurrentIntent,
		HighRiskIntents:      append([]Intent(nil), s.HighRiskIntents...),
		RepeatCount:          s.RepeatCount,
		ToolCalls:            tools,
		LastQueries:          s.UserTurns(5),
		EscalationConfidence: s.EscalationConfidence,
		EscalationTriggered:  s.EscalationTriggered,
		DurationSeconds:      t.now().UTC().Sub(s.StartedAt).Seconds(),
	}, true
}

// NewID returns a 32-character random hex identifier. Conversations, turns
// and handoff alerts all use this format.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("conv: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
