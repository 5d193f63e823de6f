// Package notify fans handoff alert events out to registered subscribers:
// operator dashboard hubs, the backend event emitter, and anything else that
// wants to observe the queue in real time.
//
// Subscribers are isolated from one another: a panic or error inside one
// subscriber is recovered, logged, counted, and never reaches the manager or
// the remaining subscribers. Within one subscriber, events arrive in the
// order the manager emitted them; ordering across subscribers is not
// specified.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/observe"
)

// Subscriber receives alert lifecycle events. Both methods are called with a
// clone of the alert, so implementations may retain it freely.
type Subscriber interface {
	// OnNewAlert is delivered once when an alert enters the queue.
	OnNewAlert(ctx context.Context, alert *conv.HandoffAlert) error

	// OnAlertUpdate is delivered on lifecycle transitions; event is one of
	// "assigned", "started", "completed".
	OnAlertUpdate(ctx context.Context, alert *conv.HandoffAlert, event string) error
}

// Funcs adapts two plain functions into a [Subscriber]. Nil fields are
// skipped.
type Funcs struct {
	NewAlert func(ctx context.Context, alert *conv.HandoffAlert) error
	Update   func(ctx context.Context, alert *conv.HandoffAlert, event string) error
}

func (f Funcs) OnNewAlert(ctx context.Context, alert *conv.HandoffAlert) error {
	if f.NewAlert == nil {
		return nil
	}
	return f.NewAlert(ctx, alert)
}

func (f Funcs) OnAlertUpdate(ctx context.Context, alert *conv.HandoffAlert, event string) error {
	if f.Update == nil {
		return nil
	}
	return f.Update(ctx, alert, event)
}

var _ Subscriber = Funcs{}

// Notifier is the fan-out hub. Safe for concurrent use; registration may
// race with fan-out, in which case the new subscriber simply misses events
// emitted before it registered.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []Subscriber

	log     *slog.Logger
	metrics *observe.Metrics
}

// New returns an empty Notifier. A nil logger falls back to slog.Default();
// nil metrics fall back to [observe.DefaultMetrics].
func New(log *slog.Logger, metrics *observe.Metrics) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Notifier{log: log, metrics: metrics}
}

// Subscribe registers a subscriber for all future events.
func (n *Notifier) Subscribe(s Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, s)
}

// SubscriberCount returns the number of registered subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}

// NotifyNewAlert delivers a new_alert event to every subscriber. Each
// subscriber receives its own clone of the alert.
func (n *Notifier) NotifyNewAlert(ctx context.Context, alert *conv.HandoffAlert) {
	for _, s := range n.snapshot() {
		n.deliver(ctx, "new_alert", alert, func(a *conv.HandoffAlert) error {
			return s.OnNewAlert(ctx, a)
		})
	}
}

// NotifyUpdate delivers a lifecycle update to every subscriber.
func (n *Notifier) NotifyUpdate(ctx context.Context, alert *conv.HandoffAlert, event string) {
	for _, s := range n.snapshot() {
		n.deliver(ctx, event, alert, func(a *conv.HandoffAlert) error {
			return s.OnAlertUpdate(ctx, a, event)
		})
	}
}

// snapshot copies the subscriber list so fan-out never holds the lock while
// a subscriber runs.
func (n *Notifier) snapshot() []Subscriber {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Subscriber(nil), n.subscribers...)
}

// deliver invokes one subscriber callback with panic recovery. Failures are
// logged and counted; they never propagate.
func (n *Notifier) deliver(ctx context.Context, event string, alert *conv.HandoffAlert, fn func(*conv.HandoffAlert) error) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.RecordNotifyFailure(ctx, event)
			n.log.Error("subscriber panicked",
				"event", event,
				"alert_id", alert.ID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := fn(alert.Clone()); err != nil {
		n.metrics.RecordNotifyFailure(ctx, event)
		n.log.Error("subscriber failed",
			"event", event,
			"alert_id", alert.ID,
			"err", err,
		)
	}
}
