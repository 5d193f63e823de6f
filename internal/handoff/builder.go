package handoff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sahaya-ai/sahaya/internal/conv"
)

// triggerIssues maps each trigger to the stock phrasing of the primary
// issue when no intent-specific issue applies.
var triggerIssues = map[conv.Trigger]string{
	conv.TriggerExplicitRequest:  "User requested human agent",
	conv.TriggerHighFrustration:  "User is frustrated with bot responses",
	conv.TriggerRepeatedQueries:  "Bot unable to answer user's question",
	conv.TriggerFraudDetection:   "Potential fraud reported",
	conv.TriggerSafetyEmergency:  "Safety or emergency situation",
	conv.TriggerHarassmentReport: "Harassment incident reported",
	conv.TriggerToolFailures:     "Technical issues with service",
	conv.TriggerLongConversation: "Extended unresolved conversation",
}

// intentTopics maps intents to the dashboard topic chips.
var intentTopics = map[conv.Intent]string{
	conv.IntentTripInquiry:   "Trip Status",
	conv.IntentFAQQuery:      "FAQs",
	conv.IntentPaymentIssue:  "Payment",
	conv.IntentComplaint:     "Complaint",
	conv.IntentSafetyConcern: "Safety",
	conv.IntentAccountIssue:  "Account",
}

// buildSummary condenses the conversation into the agent-facing summary.
func buildSummary(state *conv.ConversationState, trigger conv.Trigger) *conv.ConversationSummary {
	primary := primaryIssue(state, trigger)

	var parts []string
	if first := state.FirstUserContent(); first != "" {
		if r := []rune(first); len(r) > 100 {
			parts = append(parts, fmt.Sprintf("User started with: %q...", string(r[:100])))
		} else {
			parts = append(parts, fmt.Sprintf("User started with: %q", first))
		}
	}
	if state.RepeatCount > 0 {
		parts = append(parts, fmt.Sprintf("User repeated similar queries %d times.", state.RepeatCount))
	}
	if state.SentimentTrend == conv.TrendDeclining {
		parts = append(parts, "User sentiment has been declining throughout the conversation.")
	}
	if state.ToolFailureCount > 0 {
		parts = append(parts, fmt.Sprintf("Bot encountered %d tool failures.", state.ToolFailureCount))
	}

	var stuckOn string
	switch {
	case trigger == conv.TriggerRepeatedQueries && state.LastRepeatedQuery != "":
		stuckOn = state.LastRepeatedQuery
	case trigger == conv.TriggerBotStuck:
		stuckOn = "Unable to resolve user's request after multiple attempts"
	}

	return &conv.ConversationSummary{
		OneLineSummary:      trigger.Title() + ": " + primary,
		DetailedSummary:     strings.Join(parts, " "),
		PrimaryIssue:        primary,
		SecondaryIssues:     []string{},
		StuckOn:             stuckOn,
		TopicsDiscussed:     extractTopics(state),
		ResolutionAttempted: state.ToolSuccessCount > 0,
	}
}

// primaryIssue names the headline problem. Payment and account issues on
// the high-risk list win over the trigger's stock phrase.
func primaryIssue(state *conv.ConversationState, trigger conv.Trigger) string {
	if slices.Contains(state.HighRiskIntents, conv.IntentPaymentIssue) {
		return "Payment or refund issue"
	}
	if slices.Contains(state.HighRiskIntents, conv.IntentAccountIssue) {
		return "Account related problem"
	}
	if issue, ok := triggerIssues[trigger]; ok {
		return issue
	}
	return "Unresolved query"
}

// extractTopics returns the distinct topics touched by the intent history,
// in first-seen order.
func extractTopics(state *conv.ConversationState) []string {
	topics := []string{}
	seen := make(map[string]bool)
	for _, intent := range state.IntentHistory {
		topic, ok := intentTopics[intent]
		if !ok || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, topic)
	}
	return topics
}

// buildSuggestions scripts the agent's opening moves for this trigger plus
// anything the intent history calls for.
func buildSuggestions(state *conv.ConversationState, trigger conv.Trigger) []conv.SuggestedAction {
	var out []conv.SuggestedAction

	switch trigger {
	case conv.TriggerFraudDetection:
		out = append(out,
			conv.SuggestedAction{
				Action:      "verify_identity",
				Description: "Verify caller's identity with security questions",
				Priority:    "high",
			},
			conv.SuggestedAction{
				Action:      "escalate_fraud_team",
				Description: "Escalate to fraud investigation team if confirmed",
				Priority:    "high",
			},
		)
	case conv.TriggerSafetyEmergency:
		out = append(out,
			conv.SuggestedAction{
				Action:      "check_safety",
				Description: "Immediately confirm caller's safety status",
				Priority:    "urgent",
			},
			conv.SuggestedAction{
				Action:      "emergency_services",
				Description: "Offer to contact emergency services if needed",
				Priority:    "urgent",
			},
		)
	case conv.TriggerHarassmentReport:
		out = append(out,
			conv.SuggestedAction{
				Action:      "document_incident",
				Description: "Document harassment details for investigation",
				Priority:    "high",
			},
			conv.SuggestedAction{
				Action:      "safety_measures",
				Description: "Explain safety measures and block options",
				Priority:    "high",
			},
		)
	case conv.TriggerHighFrustration:
		out = append(out,
			conv.SuggestedAction{
				Action:      "empathize",
				Description: "Start with empathy and acknowledge frustration",
				Priority:    "high",
			},
			conv.SuggestedAction{
				Action:      "resolve_quickly",
				Description: "Focus on quick resolution to rebuild trust",
				Priority:    "medium",
			},
		)
	}

	if slices.Contains(state.HighRiskIntents, conv.IntentPaymentIssue) {
		out = append(out, conv.SuggestedAction{
			Action:      "check_payment",
			Description: "Review payment history and pending issues",
			Priority:    "high",
			Data:        map[string]any{"check": "payment_history"},
		})
	}

	if state.LastRepeatedQuery != "" {
		q := state.LastRepeatedQuery
		if r := []rune(q); len(r) > 50 {
			q = string(r[:50])
		}
		out = append(out, conv.SuggestedAction{
			Action:      "address_query",
			Description: fmt.Sprintf("Address repeated question: '%s...'", q),
			Priority:    "high",
		})
	}

	return out
}

// triggerDescription renders the one-line reason shown next to the alert.
func triggerDescription(state *conv.ConversationState, trigger conv.Trigger) string {
	switch trigger {
	case conv.TriggerExplicitRequest:
		return "User explicitly requested to speak with a human agent"
	case conv.TriggerHighFrustration:
		return fmt.Sprintf("User sentiment dropped to %s", state.CurrentSentiment)
	case conv.TriggerRepeatedQueries:
		return fmt.Sprintf("User repeated similar query %d times", state.RepeatCount)
	case conv.TriggerFraudDetection:
		return "Potential fraud activity detected in conversation"
	case conv.TriggerSafetyEmergency:
		return "Safety or emergency concern raised by user"
	case conv.TriggerHarassmentReport:
		return "User reported harassment incident"
	case conv.TriggerToolFailures:
		return fmt.Sprintf("Bot encountered %d failures", state.ToolFailureCount)
	case conv.TriggerConfidenceThreshold:
		return fmt.Sprintf("Escalation confidence reached %.0f%%", state.EscalationConfidence*100)
	case conv.TriggerBotStuck:
		return "Bot unable to progress conversation"
	case conv.TriggerLongConversation:
		return fmt.Sprintf("Conversation reached %d turns without resolution", state.TurnCount)
	}
	return "Escalation triggered"
}
