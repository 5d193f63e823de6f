package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/escalate"
	"github.com/sahaya-ai/sahaya/internal/handoff"
	"github.com/sahaya-ai/sahaya/internal/observe"
)

const (
	// eventBuffer sizes the per-call event queue. The pipeline produces
	// fragments faster than the consumer needs to keep up turn-by-turn.
	eventBuffer = 64

	// drainTimeout bounds the graceful shutdown of a call feed before the
	// consumer is force-cancelled.
	drainTimeout = 5 * time.Second
)

// ErrFeedClosed is returned by [CallFeed.Send] after Close.
var ErrFeedClosed = errors.New("pipeline: call feed closed")

// HandoffCallback is invoked once per conversation when escalation fires.
// Errors are logged, never propagated.
type HandoffCallback func(ctx context.Context, alert *conv.HandoffAlert) error

// Adapter turns pipeline events into tracker mutations and escalation
// checks. One Adapter serves every call; per-call ordering comes from the
// per-call feeds it hands out.
type Adapter struct {
	tracker *conv.Tracker
	engine  *escalate.Engine
	manager *handoff.Manager

	onHandoff HandoffCallback
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHandoffCallback registers the outbound callback fired on escalation.
func WithHandoffCallback(cb HandoffCallback) Option {
	return func(a *Adapter) { a.onHandoff = cb }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// WithMetrics sets the metrics sink; defaults to [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = metrics }
}

// NewAdapter wires the adapter to its collaborators.
func NewAdapter(tracker *conv.Tracker, engine *escalate.Engine, manager *handoff.Manager, opts ...Option) *Adapter {
	a := &Adapter{
		tracker: tracker,
		engine:  engine,
		manager: manager,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tracker exposes the conversation tracker the adapter writes into.
func (a *Adapter) Tracker() *conv.Tracker {
	return a.tracker
}

// CallFeed is the single-consumer event queue for one call. Send may be
// called from any goroutine; exactly one consumer goroutine drains it.
type CallFeed struct {
	callID string
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	stop   sync.Once
}

// CallID returns the call this feed serves.
func (f *CallFeed) CallID() string { return f.callID }

// Send queues an event for the call's consumer. It blocks while the buffer
// is full and fails once the feed is closed or ctx expires.
func (f *CallFeed) Send(ctx context.Context, ev Event) error {
	select {
	case <-f.quit:
		return ErrFeedClosed
	case <-f.done:
		return ErrFeedClosed
	default:
	}
	select {
	case f.events <- ev:
		return nil
	case <-f.quit:
		return ErrFeedClosed
	case <-f.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the feed: buffered events are drained for up to five seconds,
// then the consumer is force-cancelled. Safe to call more than once; always
// returns with the consumer stopped.
func (f *CallFeed) Close() {
	f.stop.Do(func() { close(f.quit) })
	select {
	case <-f.done:
	case <-time.After(drainTimeout):
		f.cancel()
		<-f.done
	}
}

// StartCall begins tracking callID and returns its event feed. The feed's
// consumer goroutine runs until an [EventEnd] arrives or Close is called;
// either way the conversation is dropped from the tracker on exit.
func (a *Adapter) StartCall(callID, roomName string, driver conv.DriverInfo) *CallFeed {
	a.tracker.Create(callID, roomName, driver)

	ctx, cancel := context.WithCancel(context.Background())
	f := &CallFeed{
		callID: callID,
		events: make(chan Event, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	a.metrics.ActiveConversations.Add(ctx, 1)
	go a.consume(ctx, f)
	return f
}

// responseState accumulates one streamed assistant response and remembers
// the tool invocation in flight.
type responseState struct {
	active      bool
	acc         strings.Builder
	pendingTool string
}

func (a *Adapter) consume(ctx context.Context, f *CallFeed) {
	defer close(f.done)
	defer f.cancel()
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		a.metrics.ActiveConversations.Add(cleanupCtx, -1)
		a.tracker.Remove(f.callID)
	}()

	var st responseState
	for {
		select {
		case ev := <-f.events:
			if a.handle(ctx, f.callID, ev, &st) {
				return
			}
		case <-f.quit:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case ev := <-f.events:
					if a.handle(ctx, f.callID, ev, &st) || ctx.Err() != nil {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// handle applies one event and reports whether the call ended.
func (a *Adapter) handle(ctx context.Context, callID string, ev Event, st *responseState) bool {
	switch ev.Type {
	case EventTranscription:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return false
		}
		if _, ok := a.tracker.AddUserTurn(callID, text); !ok {
			return false
		}
		a.metrics.RecordTurn(ctx, conv.RoleUser)
		a.checkEscalation(ctx, callID)

	case EventResponseStart:
		st.active = true
		st.acc.Reset()

	case EventTextFragment:
		if st.active {
			st.acc.WriteString(ev.Text)
		}

	case EventResponseEnd:
		if st.active && st.acc.Len() > 0 {
			if a.tracker.AddAssistantTurn(callID, st.acc.String()) {
				a.metrics.RecordTurn(ctx, conv.RoleAssistant)
			}
		}
		st.active = false
		st.acc.Reset()

	case EventToolStart:
		st.pendingTool = ev.Name

	case EventToolResult:
		name := ev.Name
		if name == "" {
			name = st.pendingTool
		}
		st.pendingTool = ""
		success := ResultIndicatesSuccess(ev.Result)
		a.tracker.RecordToolCall(callID, name, success)
		status := "success"
		if !success {
			status = "failure"
		}
		a.metrics.RecordToolCall(ctx, name, status)
		if !success {
			a.checkEscalation(ctx, callID)
		}

	case EventEnd:
		return true

	default:
		a.log.Warn("unknown pipeline event", "call_id", callID, "type", ev.Type)
	}
	return false
}

// checkEscalation recomputes the confidence and, when the engine says so,
// fires the handoff exactly once for the conversation. The compute and the
// triggered-flag flip happen under the tracker lock; the manager call and
// the outbound callback run outside it on a snapshot.
func (a *Adapter) checkEscalation(ctx context.Context, callID string) {
	var (
		snapshot *conv.ConversationState
		trigger  conv.Trigger
		priority conv.Priority
	)
	a.tracker.WithState(callID, func(s *conv.ConversationState) {
		if s.EscalationTriggered {
			return
		}
		eval := a.engine.Evaluate(s)
		s.EscalationConfidence = eval.Confidence
		s.EscalationFactors = eval.Factors
		a.metrics.RecordEscalationCheck(ctx, eval.Confidence)

		switch {
		case a.engine.ShouldEscalate(s):
			trigger = eval.Trigger
			if trigger == "" {
				trigger = conv.TriggerConfidenceThreshold
			}
			priority = escalate.PriorityFor(trigger, s.CurrentSentiment)
			s.EscalationTriggered = true
			s.EscalationTrigger = trigger
			snapshot = s.Clone()
		case a.engine.ShouldWarn(s):
			a.log.Warn("conversation at risk of escalation",
				"call_id", callID,
				"confidence", eval.Confidence,
			)
		}
	})
	if snapshot == nil {
		return
	}

	alert, err := a.manager.TriggerHandoff(ctx, snapshot, trigger, priority)
	if err != nil {
		a.log.Error("handoff trigger failed", "call_id", callID, "err", err)
		return
	}
	if a.onHandoff != nil {
		if err := a.onHandoff(ctx, alert); err != nil {
			a.log.Error("handoff callback failed", "call_id", callID, "alert_id", alert.ID, "err", err)
		}
	}
}
