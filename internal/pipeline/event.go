// Package pipeline adapts the voice-pipeline event stream into conversation
// tracking and escalation checks.
//
// Each call owns one [CallFeed]: a single-consumer queue whose goroutine is
// the only writer of that call's conversation state. Events for different
// calls never contend; cross-call state (the handoff queue, subscribers)
// is guarded inside the manager and notifier.
package pipeline

import (
	"fmt"
	"strings"
)

// EventType discriminates pipeline events.
type EventType string

// The pipeline event vocabulary, in the order a typical exchange emits
// them.
const (
	// EventTranscription carries a final user utterance.
	EventTranscription EventType = "transcription"
	// EventResponseStart opens an assistant response.
	EventResponseStart EventType = "response_start"
	// EventTextFragment appends streamed assistant text.
	EventTextFragment EventType = "text_fragment"
	// EventResponseEnd closes the assistant response.
	EventResponseEnd EventType = "response_end"
	// EventToolStart notes a tool invocation beginning.
	EventToolStart EventType = "tool_start"
	// EventToolResult carries a tool outcome.
	EventToolResult EventType = "tool_result"
	// EventEnd terminates the call's stream.
	EventEnd EventType = "end"
)

// Event is one pipeline occurrence for a call. Which fields are meaningful
// depends on Type: Text for transcriptions and fragments, Name for tool
// events, Result for tool results.
type Event struct {
	Type   EventType
	Text   string
	Name   string
	Result any
}

// ResultIndicatesSuccess applies the tool-outcome heuristic: a nil result
// is a failure, as is any result whose string rendering contains "error".
// This is deliberately crude; tools report errors as payload text, not
// structured codes, so the string scan is the only portable signal.
func ResultIndicatesSuccess(result any) bool {
	if result == nil {
		return false
	}
	return !strings.Contains(strings.ToLower(fmt.Sprint(result)), "error")
}
