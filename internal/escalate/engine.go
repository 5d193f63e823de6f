// Package escalate scores live conversations for handoff to a human agent.
//
// The engine blends six weighted signals into a confidence in [0, 1]:
// query repetition, sentiment, high-risk intents, tool failures,
// conversation length and explicit requests for a human. Three intent
// categories (safety, harassment, fraud) bypass the blend entirely and
// escalate immediately at confidence 1.0.
//
// Evaluation is a pure read of the state; the caller stores the returned
// confidence back on the state so [Engine.ShouldWarn] and
// [Engine.ShouldEscalate] always reflect the latest compute.
package escalate

import (
	"log/slog"
	"math"
	"slices"

	"github.com/sahaya-ai/sahaya/internal/conv"
)

// Factor names. These are the keys of every factors map the engine
// produces and the vocabulary of the escalation_factors wire field.
const (
	FactorRepetition      = "repetition"
	FactorSentiment       = "sentiment"
	FactorHighRiskIntent  = "high_risk_intent"
	FactorToolFailures    = "tool_failures"
	FactorTurnCount       = "turn_count"
	FactorExplicitRequest = "explicit_request"
)

// Thresholds on the blended confidence.
const (
	// AutoEscalateThreshold triggers a handoff.
	AutoEscalateThreshold = 0.75
	// PrepareHandoffThreshold marks a conversation as at-risk so the
	// adapter can warn before the handoff fires.
	PrepareHandoffThreshold = 0.55
)

const (
	// maxRepeatsBeforeEscalate: this many repeats hand off on their own.
	maxRepeatsBeforeEscalate = 3
	// maxTurnsBeforePenalty: turn counts beyond this take the full
	// length penalty.
	maxTurnsBeforePenalty = 10
	// maxToolFailuresBeforePenalty: failures at or past this bump the
	// failure rate and hand off on their own.
	maxToolFailuresBeforePenalty = 2
	// sentimentEscalationFloor: a sentiment factor at or above this
	// (an angry caller, or a frustrated one trending down) hands off
	// on its own.
	sentimentEscalationFloor = 0.8
)

// weights blend the factors into the confidence. They sum to exactly 1.00.
var weights = map[string]float64{
	FactorRepetition:      0.20,
	FactorSentiment:       0.20,
	FactorHighRiskIntent:  0.25,
	FactorToolFailures:    0.10,
	FactorTurnCount:       0.10,
	FactorExplicitRequest: 0.15,
}

// factorOrder fixes the tie-break when picking the dominant factor for
// trigger selection: earlier entries win ties.
var factorOrder = []string{
	FactorRepetition,
	FactorSentiment,
	FactorHighRiskIntent,
	FactorToolFailures,
	FactorTurnCount,
	FactorExplicitRequest,
}

// triggerByFactor maps the dominant factor to the trigger reported on the
// alert.
var triggerByFactor = map[string]conv.Trigger{
	FactorRepetition:      conv.TriggerRepeatedQueries,
	FactorSentiment:       conv.TriggerHighFrustration,
	FactorHighRiskIntent:  conv.TriggerConfidenceThreshold,
	FactorToolFailures:    conv.TriggerToolFailures,
	FactorTurnCount:       conv.TriggerLongConversation,
	FactorExplicitRequest: conv.TriggerExplicitRequest,
}

// Evaluation is the engine's verdict on one conversation state.
type Evaluation struct {
	// Confidence is the blended score in [0, 1].
	Confidence float64
	// Factors holds every factor's value in [0, 1], keyed by the
	// Factor* constants.
	Factors map[string]float64
	// Trigger is non-empty when the conversation should hand off.
	Trigger conv.Trigger
}

// Engine computes escalation confidence. It is stateless and safe for
// concurrent use.
type Engine struct {
	log *slog.Logger
}

// New returns an Engine. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// Evaluate scores the state. The state is only read; callers persist
// Confidence and Factors back onto it under their own locking.
func (e *Engine) Evaluate(state *conv.ConversationState) Evaluation {
	if trig := immediateTrigger(state); trig != "" {
		factors := make(map[string]float64, len(factorOrder))
		for _, name := range factorOrder {
			factors[name] = 1.0
		}
		e.log.Info("immediate escalation",
			"call_id", state.CallID,
			"trigger", trig,
		)
		return Evaluation{Confidence: 1.0, Factors: factors, Trigger: trig}
	}

	factors := map[string]float64{
		FactorRepetition:      repetitionFactor(state),
		FactorSentiment:       sentimentFactor(state),
		FactorHighRiskIntent:  intentFactor(state),
		FactorToolFailures:    toolFailureFactor(state),
		FactorTurnCount:       turnCountFactor(state),
		FactorExplicitRequest: explicitRequestFactor(state),
	}

	var confidence float64
	for name, w := range weights {
		confidence += factors[name] * w
	}

	// Some signals hand off on their own even when the blended score
	// stays low: an explicit ask for a human, a query repeated three
	// times, an angry caller, or a second tool failure. Lift those to
	// the escalation threshold and let the dominant factor name the
	// trigger.
	if confidence < AutoEscalateThreshold && escalatesAlone(state, factors) {
		confidence = AutoEscalateThreshold
	}

	var trigger conv.Trigger
	if confidence >= AutoEscalateThreshold {
		trigger = dominantTrigger(factors)
	}

	e.log.Debug("escalation confidence computed",
		"call_id", state.CallID,
		"confidence", confidence,
		"trigger", trigger,
	)
	return Evaluation{Confidence: confidence, Factors: factors, Trigger: trigger}
}

// ShouldEscalate reports whether the confidence stored by the most recent
// compute crosses the auto-escalation threshold.
func (e *Engine) ShouldEscalate(state *conv.ConversationState) bool {
	return state.EscalationConfidence >= AutoEscalateThreshold
}

// ShouldWarn reports whether the stored confidence crosses the
// prepare-handoff threshold.
func (e *Engine) ShouldWarn(state *conv.ConversationState) bool {
	return state.EscalationConfidence >= PrepareHandoffThreshold
}

// PriorityFor maps a trigger to its queue priority. Frustration handoffs
// are split by how hot the caller currently is.
func PriorityFor(trigger conv.Trigger, sentiment conv.Sentiment) conv.Priority {
	switch trigger {
	case conv.TriggerSafetyEmergency, conv.TriggerHarassmentReport, conv.TriggerFraudDetection:
		return conv.PriorityUrgent
	case conv.TriggerExplicitRequest:
		return conv.PriorityHigh
	case conv.TriggerHighFrustration:
		if sentiment == conv.SentimentAngry {
			return conv.PriorityHigh
		}
		return conv.PriorityMedium
	case conv.TriggerRepeatedQueries, conv.TriggerToolFailures:
		return conv.PriorityMedium
	}
	return conv.PriorityLow
}

// immediateTrigger scans the detected high-risk intents in observation
// order and returns the categorical trigger for the first safety,
// harassment or fraud report. Escalation requests in the list do not
// qualify; they flow through the blended score.
func immediateTrigger(s *conv.ConversationState) conv.Trigger {
	for _, intent := range s.HighRiskIntents {
		switch intent {
		case conv.IntentSafetyConcern:
			return conv.TriggerSafetyEmergency
		case conv.IntentHarassment:
			return conv.TriggerHarassmentReport
		case conv.IntentFraudReport:
			return conv.TriggerFraudDetection
		}
	}
	return ""
}

// escalatesAlone reports whether any single signal is strong enough to
// hand off regardless of the blended score.
func escalatesAlone(s *conv.ConversationState, factors map[string]float64) bool {
	return factors[FactorExplicitRequest] >= 1 ||
		s.RepeatCount >= maxRepeatsBeforeEscalate ||
		factors[FactorSentiment] >= sentimentEscalationFloor ||
		s.ToolFailureCount >= maxToolFailuresBeforePenalty
}

// dominantTrigger picks the trigger of the highest factor; ties go to the
// earliest factor in declaration order.
func dominantTrigger(factors map[string]float64) conv.Trigger {
	best := factorOrder[0]
	for _, name := range factorOrder[1:] {
		if factors[name] > factors[best] {
			best = name
		}
	}
	return triggerByFactor[best]
}

func repetitionFactor(s *conv.ConversationState) float64 {
	switch s.RepeatCount {
	case 0:
		return 0
	case 1:
		return 0.3
	case 2:
		return 0.6
	}
	return 1
}

func sentimentFactor(s *conv.ConversationState) float64 {
	var f float64
	switch s.CurrentSentiment {
	case conv.SentimentAngry:
		f = 0.8
	case conv.SentimentFrustrated:
		f = 0.6
	case conv.SentimentNegative:
		f = 0.3
	}

	switch s.SentimentTrend {
	case conv.TrendDeclining:
		f = math.Min(1, f+0.2)
	case conv.TrendImproving:
		f = math.Max(0, f-0.1)
	}

	// A history that is mostly negative keeps the factor hot even when
	// the latest turn reads milder.
	if len(s.SentimentHistory) >= 3 {
		var negatives int
		for _, score := range s.SentimentHistory {
			if score < -0.2 {
				negatives++
			}
		}
		if float64(negatives)/float64(len(s.SentimentHistory)) > 0.5 {
			f = math.Min(1, f+0.2)
		}
	}
	return f
}

func intentFactor(s *conv.ConversationState) float64 {
	if len(s.HighRiskIntents) == 0 {
		switch s.CurrentIntent {
		case conv.IntentComplaint, conv.IntentPaymentIssue, conv.IntentAccountIssue, conv.IntentEscalationRequest:
			return 0.4
		}
		return 0
	}
	if len(s.HighRiskIntents) >= 2 {
		return 1
	}
	return 0.7
}

func toolFailureFactor(s *conv.ConversationState) float64 {
	if s.ToolFailureCount == 0 {
		return 0
	}
	total := s.ToolSuccessCount + s.ToolFailureCount
	rate := float64(s.ToolFailureCount) / float64(total)
	if s.ToolFailureCount >= maxToolFailuresBeforePenalty {
		return math.Min(1, rate+0.3)
	}
	return rate
}

func turnCountFactor(s *conv.ConversationState) float64 {
	switch {
	case s.TurnCount <= 6:
		return 0
	case s.TurnCount <= maxTurnsBeforePenalty:
		return float64(s.TurnCount-6) / float64(maxTurnsBeforePenalty-6) * 0.5
	default:
		return 1
	}
}

func explicitRequestFactor(s *conv.ConversationState) float64 {
	if slices.Contains(s.IntentHistory, conv.IntentEscalationRequest) {
		return 1
	}
	return 0
}
