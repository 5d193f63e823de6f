// Package conv holds the live conversation model for driver-support calls.
//
// Every active call owns exactly one [ConversationState]: the ordered turn
// log plus the sentiment, intent, repetition and tool-outcome signals that
// the escalation engine scores. The [Tracker] is the single writer for all
// states; anything handed outward (snapshots, summaries, alert material) is
// a deep copy, so callers never observe a state mid-mutation.
//
// The enums in this package double as wire values: their string forms are
// what the REST and dashboard WebSocket surfaces emit.
package conv

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentiment classifies the caller's mood on a single turn.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
	SentimentAngry      Sentiment = "angry"
)

// IsValid reports whether s is a recognised sentiment label.
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentFrustrated, SentimentAngry:
		return true
	}
	return false
}

// SentimentForScore maps a score in [-1, 1] to its label. Boundaries are
// inclusive on the negative side: -0.6 is angry, -0.3 is frustrated.
func SentimentForScore(score float64) Sentiment {
	switch {
	case score <= -0.6:
		return SentimentAngry
	case score <= -0.3:
		return SentimentFrustrated
	case score < -0.1:
		return SentimentNegative
	case score <= 0.3:
		return SentimentNeutral
	default:
		return SentimentPositive
	}
}

// Trend describes the direction of the sentiment history over the most
// recent window of user turns.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Intent is the high-level category assigned to a user utterance.
type Intent string

const (
	IntentGreeting          Intent = "greeting"
	IntentTripInquiry       Intent = "trip_inquiry"
	IntentFAQQuery          Intent = "faq_query"
	IntentComplaint         Intent = "complaint"
	IntentPaymentIssue      Intent = "payment_issue"
	IntentSafetyConcern     Intent = "safety_concern"
	IntentFraudReport       Intent = "fraud_report"
	IntentHarassment        Intent = "harassment"
	IntentAccountIssue      Intent = "account_issue"
	IntentEscalationRequest Intent = "escalation_request"
	IntentConfusion         Intent = "confusion"
	IntentRepeatQuery       Intent = "repeat_query"
	IntentAppreciation      Intent = "appreciation"
	IntentFarewell          Intent = "farewell"
	IntentOther             Intent = "other"
)

// IsValid reports whether i is a recognised intent category.
func (i Intent) IsValid() bool {
	switch i {
	case IntentGreeting, IntentTripInquiry, IntentFAQQuery, IntentComplaint,
		IntentPaymentIssue, IntentSafetyConcern, IntentFraudReport, IntentHarassment,
		IntentAccountIssue, IntentEscalationRequest, IntentConfusion, IntentRepeatQuery,
		IntentAppreciation, IntentFarewell, IntentOther:
		return true
	}
	return false
}

// IsHighRisk reports whether the intent is recorded on the state's
// high-risk list when observed. Only the four categories below qualify;
// COMPLAINT and PAYMENT_ISSUE raise the engine's intent factor but are not
// high-risk on their own.
func (i Intent) IsHighRisk() bool {
	switch i {
	case IntentFraudReport, IntentHarassment, IntentSafetyConcern, IntentEscalationRequest:
		return true
	}
	return false
}

// Trigger names the reason a conversation was handed to a human.
type Trigger string

const (
	TriggerExplicitRequest     Trigger = "explicit_request"
	TriggerHighFrustration     Trigger = "high_frustration"
	TriggerRepeatedQueries     Trigger = "repeated_queries"
	TriggerFraudDetection      Trigger = "fraud_detection"
	TriggerSafetyEmergency     Trigger = "safety_emergency"
	TriggerHarassmentReport    Trigger = "harassment_report"
	TriggerToolFailures        Trigger = "tool_failures"
	TriggerConfidenceThreshold Trigger = "confidence_threshold"
	TriggerBotStuck            Trigger = "bot_stuck"
	TriggerLongConversation    Trigger = "long_conversation"
)

// IsValid reports whether t is a recognised trigger.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerExplicitRequest, TriggerHighFrustration, TriggerRepeatedQueries,
		TriggerFraudDetection, TriggerSafetyEmergency, TriggerHarassmentReport,
		TriggerToolFailures, TriggerConfidenceThreshold, TriggerBotStuck,
		TriggerLongConversation:
		return true
	}
	return false
}

// Title renders the trigger as a dashboard heading: "explicit_request"
// becomes "Explicit Request".
func (t Trigger) Title() string {
	parts := strings.Split(string(t), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

// Priority orders handoff alerts in the operator queue.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether p is a recognised priority.
func (p Priority) IsValid() bool {
	return p.Rank() < 4
}

// Rank returns the sort rank of the priority; lower ranks dequeue first.
// Unknown priorities rank last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// AlertStatus is the lifecycle state of a handoff alert.
type AlertStatus string

const (
	StatusQueued     AlertStatus = "queued"
	StatusAssigned   AlertStatus = "assigned"
	StatusInProgress AlertStatus = "in_progress"
	StatusCompleted  AlertStatus = "completed"
	StatusAbandoned  AlertStatus = "abandoned"
	StatusCancelled  AlertStatus = "cancelled"
)

// IsValid reports whether s is a recognised alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusAssigned, StatusInProgress, StatusCompleted, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the alert lifecycle.
func (s AlertStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// DriverInfo identifies the driver on a support call. Only the phone number
// is required; the rest is best-effort context surfaced to operators.
type DriverInfo struct {
	PhoneNumber       string  `json:"phone_number"`
	Name              string  `json:"name,omitempty"`
	DriverID          string  `json:"driver_id,omitempty"`
	City              string  `json:"city,omitempty"`
	PreferredLanguage string  `json:"preferred_language"`
	SubscriptionPlan  string  `json:"subscription_plan,omitempty"`
	AccountStatus     string  `json:"account_status"`
	TotalTrips        int     `json:"total_trips"`
	Rating            float64 `json:"rating,omitempty"`
}

// Normalize fills defaulted fields on a partially populated DriverInfo.
// The platform serves Hindi-first drivers, hence the hi-IN default.
func (d DriverInfo) Normalize() DriverInfo {
	if d.PreferredLanguage == "" {
		d.PreferredLanguage = "hi-IN"
	}
	if d.AccountStatus == "" {
		d.AccountStatus = "active"
	}
	return d
}

// PhoneLast4 returns the last four digits of the phone number for operator
// display, or a masked placeholder when the number is too short.
func (d DriverInfo) PhoneLast4() string {
	r := []rune(d.PhoneNumber)
	if len(r) < 4 {
		return "****"
	}
	return string(r[len(r)-4:])
}

// NLUResult is the per-turn analysis produced by the keyword analyzer.
type NLUResult struct {
	Intent               Intent         `json:"intent"`
	IntentConfidence     float64        `json:"intent_confidence"`
	Sentiment            Sentiment      `json:"sentiment"`
	SentimentScore       float64        `json:"sentiment_score"`
	Entities             map[string]any `json:"entities,omitempty"`
	IsRepeatQuery        bool           `json:"is_repeat_query"`
	SimilarityToPrevious float64        `json:"similarity_to_previous"`
}

// Analyzer produces an NLUResult for a raw user utterance. Implementations
// may read state for contextual signals (query history, sentiment history)
// but must not mutate it; the Tracker applies the result afterwards.
type Analyzer interface {
	Analyze(content string, state *ConversationState) NLUResult
}

// ConversationTurn is a single utterance in the turn log.
type ConversationTurn struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	NLU       *NLUResult `json:"nlu_result,omitempty"`

	// ToolCalls and ToolResults record tool activity attributed to an
	// assistant turn. They are carried on the wire for dashboards; the
	// escalation counters live on the state, not here.
	ToolCalls   []string       `json:"tool_calls,omitempty"`
	ToolResults map[string]any `json:"tool_results,omitempty"`
}

func (t ConversationTurn) clone() ConversationTurn {
	cp := t
	if t.NLU != nil {
		nlu := *t.NLU
		if t.NLU.Entities != nil {
			nlu.Entities = make(map[string]any, len(t.NLU.Entities))
			for k, v := range t.NLU.Entities {
				nlu.Entities[k] = v
			}
		}
		cp.NLU = &nlu
	}
	if t.ToolCalls != nil {
		cp.ToolCalls = append([]string(nil), t.ToolCalls...)
	}
	if t.ToolResults != nil {
		cp.ToolResults = make(map[string]any, len(t.ToolResults))
		for k, v := range t.ToolResults {
			cp.ToolResults[k] = v
		}
	}
	return cp
}

// ActionTaken records one bot-side action, currently always a tool call.
type ActionTaken struct {
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

var (
	// \p{M} keeps combining marks: stripping them would collapse
	// Devanagari matras and make distinct Hindi words look alike.
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeQuery canonicalises an utterance for repetition comparison:
// lowercase, punctuation stripped, whitespace collapsed. Devanagari and
// other non-Latin word characters are preserved.
func NormalizeQuery(text string) string {
	text = strings.ToLower(text)
	text = nonWordRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
