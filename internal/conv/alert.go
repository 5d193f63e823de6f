package conv

import "time"

// SuggestedAction is one scripted next step surfaced to the human agent.
type SuggestedAction struct {
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Data        map[string]any `json:"data,omitempty"`
}

// ConversationSummary condenses the conversation for the agent taking over.
type ConversationSummary struct {
	OneLineSummary      string   `json:"one_line_summary"`
	DetailedSummary     string   `json:"detailed_summary"`
	PrimaryIssue        string   `json:"primary_issue"`
	SecondaryIssues     []string `json:"secondary_issues"`
	StuckOn             string   `json:"stuck_on,omitempty"`
	TopicsDiscussed     []string `json:"topics_discussed"`
	ResolutionAttempted bool     `json:"resolution_attempted"`
}

// HandoffAlert is the frozen snapshot of a conversation at escalation time.
// It is what sits in the operator queue and what dashboards render. The
// alert owns its copies of driver info and turns; the live state keeps
// evolving independently.
type HandoffAlert struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	CallID         string `json:"call_id"`
	RoomName       string `json:"room_name"`

	Trigger            Trigger     `json:"trigger"`
	TriggerDescription string      `json:"trigger_description"`
	Priority           Priority    `json:"priority"`
	Status             AlertStatus `json:"status"`

	Driver DriverInfo `json:"driver_info"`

	IntentHistory  []Intent  `json:"intent_history"`
	CurrentIntent  Intent    `json:"current_intent,omitempty"`
	Sentiment      Sentiment `json:"sentiment"`
	SentimentScore float64   `json:"sentiment_score"`

	IssueSummary      string               `json:"issue_summary"`
	DetailedSummary   *ConversationSummary `json:"detailed_summary,omitempty"`
	ConversationTurns []ConversationTurn   `json:"conversation_turns"`

	ActionsTakenByBot []ActionTaken     `json:"actions_taken_by_bot"`
	NextStepsForAgent []SuggestedAction `json:"next_steps_for_agent"`

	// QueuePosition is 1-based and only meaningful while Status is
	// queued. EstimatedWaitSeconds is a one-shot estimate taken at
	// enqueue time; it is not refreshed as the queue drains.
	QueuePosition        int `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds,omitempty"`

	AssignedAgentID string `json:"assigned_agent_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Resolution string `json:"resolution,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Clone returns a deep copy of the alert. Notification fan-out hands
// clones to subscribers so a slow dashboard cannot observe later
// lifecycle mutations.
func (a *HandoffAlert) Clone() *HandoffAlert {
	cp := *a
	cp.IntentHistory = append([]Intent(nil), a.IntentHistory...)
	if a.DetailedSummary != nil {
		ds := *a.DetailedSummary
		ds.SecondaryIssues = append([]string(nil), a.DetailedSummary.SecondaryIssues...)
		ds.TopicsDiscussed = append([]string(nil), a.DetailedSummary.TopicsDiscussed...)
		cp.DetailedSummary = &ds
	}
	if a.ConversationTurns != nil {
		cp.ConversationTurns = make([]ConversationTurn, len(a.ConversationTurns))
		for i, t := range a.ConversationTurns {
			cp.ConversationTurns[i] = t.clone()
		}
	}
	cp.ActionsTakenByBot = append([]ActionTaken(nil), a.ActionsTakenByBot...)
	if a.NextStepsForAgent != nil {
		cp.NextStepsForAgent = make([]SuggestedAction, len(a.NextStepsForAgent))
		for i, sa := range a.NextStepsForAgent {
			cp.NextStepsForAgent[i] = sa
			if sa.Data != nil {
				d := make(map[string]any, len(sa.Data))
				for k, v := range sa.Data {
					d[k] = v
				}
				cp.NextStepsForAgent[i].Data = d
			}
		}
	}
	if a.AssignedAt != nil {
		t := *a.AssignedAt
		cp.AssignedAt = &t
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		cp.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// AgentBrief is the quick-glance card an operator sees before accepting a
// handoff: who is calling, what went wrong, and what to do first.
type AgentBrief struct {
	DriverName            string            `json:"driver_name"`
	DriverPhoneLast4      string            `json:"driver_phone_last_4"`
	DriverCity            string            `json:"driver_city"`
	Language              string            `json:"language"`
	TopEntities           map[string]any    `json:"top_entities"`
	Summary               string            `json:"summary"`
	EscalationReason      string            `json:"escalation_reason"`
	EscalationDescription string            `json:"escalation_description"`
	Sentiment             Sentiment         `json:"sentiment"`
	SentimentScore        float64           `json:"sentiment_score"`
	SuggestedActions      []SuggestedAction `json:"suggested_actions"`
	ConfidenceTrend       string            `json:"confidence_trend"`
}
