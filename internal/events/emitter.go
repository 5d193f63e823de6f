// Package events posts lifecycle events to the platform backend so call
// logs and operator dashboards stay in sync with the voice side. Delivery
// is best-effort: a failed POST is logged and counted, never retried, and
// never blocks the caller beyond the request timeout. A circuit breaker
// trips after repeated failures so a dead backend fails fast instead of
// costing a timeout per event.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/observe"
	"github.com/sahaya-ai/sahaya/internal/resilience"
)

// requestTimeout bounds each backend POST.
const requestTimeout = 5 * time.Second

// Backend event names.
const (
	EventHandoffRequest = "handoff_request"
	EventHandoffUpdate  = "handoff_update"
	EventBotReady       = "bot_ready"
	EventCallEnded      = "call_ended"
	EventError          = "error"
)

// Emitter posts events to the backend's agent-events endpoint.
type Emitter struct {
	baseURL   string
	authToken string
	client    *http.Client
	breaker   *resilience.CircuitBreaker
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(e *Emitter) { e.authToken = token }
}

// WithHTTPClient replaces the HTTP client. Test use.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Emitter) { e.client = client }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Emitter) { e.log = log }
}

// WithMetrics sets the metrics sink; defaults to [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(e *Emitter) { e.metrics = metrics }
}

// New returns an Emitter posting to baseURL + "/api/ai-agent/events".
func New(baseURL string, opts ...Option) *Emitter {
	e := &Emitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breaker = resilience.NewCircuitBreaker(resilience.Config{
		Name:   "backend-events",
		Logger: e.log,
	})
	return e
}

// emit posts one event. The payload carries the event name and call id plus
// whatever data the specific event adds.
func (e *Emitter) emit(ctx context.Context, event, callID string, data map[string]any) error {
	payload := make(map[string]any, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = event
	payload["call_id"] = callID

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode %s payload: %w", event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/ai-agent/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("events: build %s request: %w", event, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	err = e.breaker.Execute(func() error {
		resp, err := e.client.Do(req)
		if err != nil {
			e.metrics.RecordBackendEvent(ctx, event, "error")
			return fmt.Errorf("events: post %s: %w", event, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			e.metrics.RecordBackendEvent(ctx, event, fmt.Sprintf("http_%d", resp.StatusCode))
			return fmt.Errorf("events: post %s: backend returned %d", event, resp.StatusCode)
		}
		e.metrics.RecordBackendEvent(ctx, event, "ok")
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		e.metrics.RecordBackendEvent(ctx, event, "skipped")
		return fmt.Errorf("events: post %s: %w", event, err)
	}
	return err
}

// emitLogged wraps emit for fire-and-forget call sites.
func (e *Emitter) emitLogged(ctx context.Context, event, callID string, data map[string]any) {
	if err := e.emit(ctx, event, callID, data); err != nil {
		e.log.Warn("backend event not delivered", "event", event, "call_id", callID, "err", err)
	}
}

// EmitBotReady announces the bot joined the room and is listening.
func (e *Emitter) EmitBotReady(ctx context.Context, callID string) {
	e.emitLogged(ctx, EventBotReady, callID, nil)
}

// EmitCallEnded announces a call finished, with its final turn count.
func (e *Emitter) EmitCallEnded(ctx context.Context, callID string, turns int) {
	e.emitLogged(ctx, EventCallEnded, callID, map[string]any{"turns": turns})
}

// EmitError reports a bot-side failure for the call.
func (e *Emitter) EmitError(ctx context.Context, callID, errMsg string) {
	e.emitLogged(ctx, EventError, callID, map[string]any{"error": errMsg})
}

// OnNewAlert forwards a handoff request to the backend. Part of the
// [notify.Subscriber] contract; the notifier handles the error.
func (e *Emitter) OnNewAlert(ctx context.Context, alert *conv.HandoffAlert) error {
	return e.emit(ctx, EventHandoffRequest, alert.CallID, map[string]any{
		"alert_id": alert.ID,
		"reason":   string(alert.Trigger),
		"priority": string(alert.Priority),
		"summary":  alert.IssueSummary,
	})
}

// OnAlertUpdate forwards a lifecycle transition to the backend.
func (e *Emitter) OnAlertUpdate(ctx context.Context, alert *conv.HandoffAlert, event string) error {
	return e.emit(ctx, EventHandoffUpdate, alert.CallID, map[string]any{
		"alert_id": alert.ID,
		"update":   event,
		"status":   string(alert.Status),
		"agent_id": alert.AssignedAgentID,
	})
}

var _ notify.Subscriber = (*Emitter)(nil)
