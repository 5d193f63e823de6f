package conv

import "time"

// queryHistoryLimit bounds the normalized queries retained for repetition
// detection.
const queryHistoryLimit = 10

// trendWindow is the number of trailing sentiment scores the trend is
// computed over, and trendDelta the movement required to leave "stable".
const (
	trendWindow = 3
	trendDelta  = 0.2
)

// ConversationState is the complete live record for one call. It is owned
// by the [Tracker]; the single-writer discipline means only the per-call
// pipeline consumer mutates it, always under the tracker lock.
type ConversationState struct {
	// ID is the internal conversation identifier, distinct from the
	// call_id assigned by the telephony layer.
	ID       string     `json:"id"`
	CallID   string     `json:"call_id"`
	RoomName string     `json:"room_name"`
	Driver   DriverInfo `json:"driver_info"`

	Turns     []ConversationTurn `json:"turns"`
	TurnCount int                `json:"turn_count"`

	CurrentSentiment Sentiment `json:"current_sentiment"`
	SentimentScore   float64   `json:"sentiment_score"`
	SentimentHistory []float64 `json:"sentiment_history"`
	SentimentTrend   Trend     `json:"sentiment_trend"`

	IntentHistory   []Intent `json:"intent_history"`
	CurrentIntent   Intent   `json:"current_intent,omitempty"`
	HighRiskIntents []Intent `json:"high_risk_intents_detected"`

	// QueryHistory holds the normalized form of recent user utterances,
	// newest last, capped at queryHistoryLimit entries.
	QueryHistory      []string `json:"query_history"`
	RepeatCount       int      `json:"repeat_count"`
	LastRepeatedQuery string   `json:"last_repeated_query,omitempty"`

	ToolCallsMade    []string      `json:"tool_calls_made"`
	ToolSuccessCount int           `json:"tool_success_count"`
	ToolFailureCount int           `json:"tool_failure_count"`
	ActionsTaken     []ActionTaken `json:"actions_taken"`

	EscalationConfidence float64            `json:"escalation_confidence"`
	EscalationFactors    map[string]float64 `json:"escalation_factors,omitempty"`
	EscalationTriggered  bool               `json:"escalation_triggered"`
	EscalationTrigger    Trigger            `json:"escalation_trigger,omitempty"`

	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// addTurn appends a turn, bumps the turn counter and applies the NLU result
// when present. Caller holds the tracker lock.
func (s *ConversationState) addTurn(id, role, content string, nlu *NLUResult, now time.Time) *ConversationTurn {
	s.Turns = append(s.Turns, ConversationTurn{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: now,
		NLU:       nlu,
	})
	s.TurnCount++
	s.LastActivityAt = now
	if nlu != nil {
		s.applyNLU(*nlu)
	}
	return &s.Turns[len(s.Turns)-1]
}

// applyNLU folds a turn analysis into the running signals.
func (s *ConversationState) applyNLU(res NLUResult) {
	s.SentimentScore = res.SentimentScore
	s.CurrentSentiment = res.Sentiment
	s.SentimentHistory = append(s.SentimentHistory, res.SentimentScore)
	s.updateTrend()

	s.CurrentIntent = res.Intent
	s.IntentHistory = append(s.IntentHistory, res.Intent)
	if res.Intent.IsHighRisk() {
		s.HighRiskIntents = append(s.HighRiskIntents, res.Intent)
	}

	if res.IsRepeatQuery {
		s.RepeatCount++
	}
}

// updateTrend derives the sentiment direction from the trailing window:
// declining when the newest score sits more than trendDelta below the
// oldest in the window, improving when above, stable otherwise. Fewer than
// trendWindow scores keep the previous trend.
func (s *ConversationState) updateTrend() {
	if len(s.SentimentHistory) < trendWindow {
		return
	}
	recent := s.SentimentHistory[len(s.SentimentHistory)-trendWindow:]
	switch {
	case recent[len(recent)-1] < recent[0]-trendDelta:
		s.SentimentTrend = TrendDeclining
	case recent[len(recent)-1] > recent[0]+trendDelta:
		s.SentimentTrend = TrendImproving
	default:
		s.SentimentTrend = TrendStable
	}
}

// pushQuery appends a normalized query, trimming to the history limit.
func (s *ConversationState) pushQuery(normalized string) {
	s.QueryHistory = append(s.QueryHistory, normalized)
	if len(s.QueryHistory) > queryHistoryLimit {
		s.QueryHistory = s.QueryHistory[len(s.QueryHistory)-queryHistoryLimit:]
	}
}

// recordToolCall bumps the outcome counters and logs the action.
func (s *ConversationState) recordToolCall(name string, success bool, now time.Time) {
	s.ToolCallsMade = append(s.ToolCallsMade, name)
	if success {
		s.ToolSuccessCount++
	} else {
		s.ToolFailureCount++
	}
	s.ActionsTaken = append(s.ActionsTaken, ActionTaken{
		Action:      "tool_call:" + name,
		Description: "Called " + name,
		Success:     success,
		Timestamp:   now,
	})
	s.LastActivityAt = now
}

// UserTurns returns the content of the last n user turns, oldest first.
func (s *ConversationState) UserTurns(n int) []string {
	var out []string
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			out = append(out, t.Content)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// FirstUserContent returns the content of the earliest user turn, or "".
func (s *ConversationState) FirstUserContent() string {
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			return t.Content
		}
	}
	return ""
}

// Clone returns a deep copy safe to hand outside the tracker lock. The
// copy shares nothing with the original.
func (s *ConversationState) Clone() *ConversationState {
	cp := *s
	if s.Turns != nil {
		cp.Turns = make([]ConversationTurn, len(s.Turns))
		for i, t := range s.Turns {
			cp.Turns[i] = t.clone()
		}
	}
	cp.SentimentHistory = append([]float64(nil), s.SentimentHistory...)
	cp.IntentHistory = append([]Intent(nil), s.IntentHistory...)
	cp.HighRiskIntents = append([]Intent(nil), s.HighRiskIntents...)
	cp.QueryHistory = append([]string(nil), s.QueryHistory...)
	cp.ToolCallsMade = append([]string(nil), s.ToolCallsMade...)
	cp.ActionsTaken = append([]ActionTaken(nil), s.ActionsTaken...)
	if s.EscalationFactors != nil {
		cp.EscalationFactors = make(map[string]float64, len(s.EscalationFactors))
		for k, v := range s.EscalationFactors {
			cp.EscalationFactors[k] = v
		}
	}
	return &cp
}
