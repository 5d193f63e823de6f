package notify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/notify"
)

// recordingSubscriber appends a line per delivered event.
type recordingSubscriber struct {
	events []string
}

func (r *recordingSubscriber) OnNewAlert(_ context.Context, alert *conv.HandoffAlert) error {
	r.events = append(r.events, "new:"+alert.ID)
	return nil
}

func (r *recordingSubscriber) OnAlertUpdate(_ context.Context, alert *conv.HandoffAlert, event string) error {
	r.events = append(r.events, fmt.Sprintf("%s:%s", event, alert.ID))
	return nil
}

func testAlert(id string) *conv.HandoffAlert {
	return &conv.HandoffAlert{
		ID:       id,
		CallID:   "call-" + id,
		Trigger:  conv.TriggerExplicitRequest,
		Priority: conv.PriorityHigh,
		Status:   conv.StatusQueued,
	}
}

func TestNotifier_DeliversInEmitOrder(t *testing.T) {
	t.Parallel()

	n := notify.New(nil, nil)
	sub := &recordingSubscriber{}
	n.Subscribe(sub)

	ctx := context.Background()
	n.NotifyNewAlert(ctx, testAlert("a1"))
	n.NotifyUpdate(ctx, testAlert("a1"), "assigned")
	n.NotifyUpdate(ctx, testAlert("a1"), "started")

	want := []string{"new:a1", "assigned:a1", "started:a1"}
	if len(sub.events) != len(want) {
		t.Fatalf("delivered %d events, want %d: %v", len(sub.events), len(want), sub.events)
	}
	for i, ev := range want {
		if sub.events[i] != ev {
			t.Errorf("event[%d] = %q, want %q", i, sub.events[i], ev)
		}
	}
}

func TestNotifier_FailingSubscriberIsIsolated(t *testing.T) {
	t.Parallel()

	n := notify.New(nil, nil)
	n.Subscribe(notify.Funcs{
		NewAlert: func(context.Context, *conv.HandoffAlert) error {
			return errors.New("dashboard gone")
		},
	})
	healthy := &recordingSubscriber{}
	n.Subscribe(healthy)

	n.NotifyNewAlert(context.Background(), testAlert("a2"))

	if len(healthy.events) != 1 {
		t.Fatalf("healthy subscriber got %d events, want 1", len(healthy.events))
	}
}

func TestNotifier_PanickingSubscriberIsIsolated(t *testing.T) {
	t.Parallel()

	n := notify.New(nil, nil)
	n.Subscribe(notify.Funcs{
		NewAlert: func(context.Context, *conv.HandoffAlert) error {
			panic("boom")
		},
		Update: func(context.Context, *conv.HandoffAlert, string) error {
			panic("boom")
		},
	})
	healthy := &recordingSubscriber{}
	n.Subscribe(healthy)

	ctx := context.Background()
	n.NotifyNewAlert(ctx, testAlert("a3"))
	n.NotifyUpdate(ctx, testAlert("a3"), "completed")

	if len(healthy.events) != 2 {
		t.Fatalf("healthy subscriber got %d events, want 2: %v", len(healthy.events), healthy.events)
	}
}

func TestNotifier_SubscribersReceiveClones(t *testing.T) {
	t.Parallel()

	n := notify.New(nil, nil)
	n.Subscribe(notify.Funcs{
		NewAlert: func(_ context.Context, a *conv.HandoffAlert) error {
			a.Status = conv.StatusCancelled
			a.IntentHistory = append(a.IntentHistory, conv.IntentOther)
			return nil
		},
	})

	alert := testAlert("a4")
	alert.IntentHistory = []conv.Intent{conv.IntentComplaint}
	n.NotifyNewAlert(context.Background(), alert)

	if alert.Status != conv.StatusQueued {
		t.Errorf("original status mutated to %q", alert.Status)
	}
	if len(alert.IntentHistory) != 1 {
		t.Errorf("original intent history mutated: %v", alert.IntentHistory)
	}
}

func TestNotifier_NoSubscribersIsANoOp(t *testing.T) {
	t.Parallel()

	n := notify.New(nil, nil)
	n.NotifyNewAlert(context.Background(), testAlert("a5"))

	if got := n.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}
