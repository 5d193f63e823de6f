// Package handoff owns the operator queue and the alert lifecycle: a
// conversation the engine escalates becomes a [conv.HandoffAlert], waits in
// a priority queue, is assigned to a human agent, transferred into the call
// room and eventually completed. The [Manager] is the only writer; the
// notifier fans lifecycle events out to dashboards and the backend.
package handoff

import (
	"slices"

	"github.com/sahaya-ai/sahaya/internal/conv"
)

// alertQueue is the ordered wait line of QUEUED alerts. Ordering is stable
// by (priority rank, created_at); positions are 1-based over the current
// order. Not safe for concurrent use; the Manager serialises access.
type alertQueue struct {
	items    []*conv.HandoffAlert
	byID     map[string]*conv.HandoffAlert
	byCallID map[string]*conv.HandoffAlert
}

func newAlertQueue() *alertQueue {
	return &alertQueue{
		byID:     make(map[string]*conv.HandoffAlert),
		byCallID: make(map[string]*conv.HandoffAlert),
	}
}

// add inserts the alert, re-sorts and re-indexes, and returns the alert's
// 1-based position.
func (q *alertQueue) add(a *conv.HandoffAlert) int {
	q.items = append(q.items, a)
	q.byID[a.ID] = a
	q.byCallID[a.CallID] = a

	slices.SortStableFunc(q.items, func(x, y *conv.HandoffAlert) int {
		if d := x.Priority.Rank() - y.Priority.Rank(); d != 0 {
			return d
		}
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	q.reindex()
	return a.QueuePosition
}

// remove pops the alert by id and re-indexes the remainder. Returns nil when
// the id is not queued.
func (q *alertQueue) remove(id string) *conv.HandoffAlert {
	a, ok := q.byID[id]
	if !ok {
		return nil
	}
	delete(q.byID, id)
	delete(q.byCallID, a.CallID)
	q.items = slices.DeleteFunc(q.items, func(x *conv.HandoffAlert) bool {
		return x.ID == id
	})
	q.reindex()
	return a
}

func (q *alertQueue) get(id string) (*conv.HandoffAlert, bool) {
	a, ok := q.byID[id]
	return a, ok
}

func (q *alertQueue) getByCallID(callID string) (*conv.HandoffAlert, bool) {
	a, ok := q.byCallID[callID]
	return a, ok
}

// all returns the queue contents in order. The returned slice is fresh; the
// alerts are the live ones.
func (q *alertQueue) all() []*conv.HandoffAlert {
	return slices.Clone(q.items)
}

func (q *alertQueue) len() int {
	return len(q.items)
}

// reindex rewrites 1-based positions after any mutation.
func (q *alertQueue) reindex() {
	for i, a := range q.items {
		a.QueuePosition = i + 1
	}
}

// ValidAlertID reports whether id has the canonical 32-character lowercase
// hex shape produced by [conv.NewID]. API handlers reject anything else
// before touching the Manager.
func ValidAlertID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
