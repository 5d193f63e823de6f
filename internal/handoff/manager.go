package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/observe"
)

// waitPerPositionSeconds is the per-slot wait estimate attached to an alert
// at enqueue time.
const waitPerPositionSeconds = 60

// Sentinel errors for lifecycle operations.
var (
	// ErrNotFound means no alert with the given id is known to the queue
	// or the active set.
	ErrNotFound = errors.New("handoff: alert not found")

	// ErrInvalidState means the alert exists but is not in the lifecycle
	// state the operation requires.
	ErrInvalidState = errors.New("handoff: alert not in required state")

	// ErrAlreadyTriggered means a handoff already exists for the call.
	ErrAlreadyTriggered = errors.New("handoff: escalation already triggered for call")
)

// TokenMinter issues the bearer token a human operator presents to join the
// call room. The Manager holds no key material; it delegates.
type TokenMinter interface {
	MintOperatorToken(roomName, agentID, displayName string, ttl time.Duration) (string, error)
}

// TransferInfo is everything the operator client needs to take over a call.
type TransferInfo struct {
	Status    string `json:"status"`
	AlertID   string `json:"alert_id"`
	CallID    string `json:"call_id"`
	RoomName  string `json:"room_name"`
	AgentID   string `json:"agent_id"`
	JoinURL   string `json:"join_url"`
	JoinToken string `json:"join_token"`
}

// CallStatus is the per-call handoff view: where the alert sits in its
// lifecycle as seen from the telephony side.
type CallStatus struct {
	Status               conv.AlertStatus `json:"status"`
	QueuePosition        int              `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int              `json:"estimated_wait,omitempty"`
	AgentID              string           `json:"agent_id,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
}

// QueueStats aggregates the wait line for dashboards.
type QueueStats struct {
	Total          int            `json:"total"`
	ByPriority     map[string]int `json:"by_priority"`
	AvgWaitSeconds float64        `json:"avg_wait_seconds"`
}

// Manager coordinates the handoff lifecycle. One exclusive lock spans every
// queue mutation, position re-index and index update; notifier fan-out always
// happens after the lock is released, with cloned alerts, so a slow dashboard
// cannot stall a transition.
type Manager struct {
	mu         sync.Mutex
	queue      *alertQueue
	active     map[string]*conv.HandoffAlert // call_id → alert, post-QUEUED
	activeByID map[string]*conv.HandoffAlert
	completed  []*conv.HandoffAlert

	notifier *notify.Notifier
	minter   TokenMinter
	joinURL  string
	tokenTTL time.Duration

	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	// lastCreated keeps created_at monotone non-decreasing so equal-priority
	// alerts keep enqueue order under the stable sort.
	lastCreated time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics sink; defaults to [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTokenTTL sets the lifetime of minted operator join tokens. Zero
// keeps the minter's default.
func WithTokenTTL(d time.Duration) Option {
	return func(m *Manager) { m.tokenTTL = d }
}

// New returns a Manager transferring calls through the room server at
// joinURL. The minter signs operator join tokens; the notifier receives
// every lifecycle event.
func New(minter TokenMinter, joinURL string, notifier *notify.Notifier, opts ...Option) *Manager {
	m := &Manager{
		queue:      newAlertQueue(),
		active:     make(map[string]*conv.HandoffAlert),
		activeByID: make(map[string]*conv.HandoffAlert),
		notifier:   notifier,
		minter:     minter,
		joinURL:    joinURL,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TriggerHandoff escalates the conversation: builds the summary and agent
// scaffolding, snapshots the state into an alert, enqueues it and notifies
// subscribers. At most one handoff may exist per call; a second trigger for
// the same call_id returns [ErrAlreadyTriggered].
//
// The state must be a snapshot owned by the caller; the Manager marks its
// escalation flags but does not retain it.
func (m *Manager) TriggerHandoff(ctx context.Context, state *conv.ConversationState, trigger conv.Trigger, priority conv.Priority) (*conv.HandoffAlert, error) {
	summary := buildSummary(state, trigger)
	alert := &conv.HandoffAlert{
		ID:                 conv.NewID(),
		ConversationID:     state.ID,
		CallID:             state.CallID,
		RoomName:           state.RoomName,
		Trigger:            trigger,
		TriggerDescription: triggerDescription(state, trigger),
		Priority:           priority,
		Status:             conv.StatusQueued,
		Driver:             state.Driver,
		IntentHistory:      state.IntentHistory,
		CurrentIntent:      state.CurrentIntent,
		Sentiment:          state.CurrentSentiment,
		SentimentScore:     state.SentimentScore,
		IssueSummary:       summary.OneLineSummary,
		DetailedSummary:    summary,
		ConversationTurns:  state.Turns,
		ActionsTakenByBot:  state.ActionsTaken,
		NextStepsForAgent:  buildSuggestions(state, trigger),
	}

	m.mu.Lock()
	if _, ok := m.queue.getByCallID(state.CallID); ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTriggered, state.CallID)
	}
	if _, ok := m.active[state.CallID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTriggered, state.CallID)
	}

	created := m.now().UTC()
	if created.Before(m.lastCreated) {
		created = m.lastCreated
	}
	m.lastCreated = created
	alert.CreatedAt = created

	position := m.queue.add(alert)
	alert.EstimatedWaitSeconds = position * waitPerPositionSeconds

	state.EscalationTriggered = true
	state.EscalationTrigger = trigger

	out := alert.Clone()
	m.mu.Unlock()

	m.metrics.RecordAlert(ctx, string(trigger), string(priority))
	m.metrics.QueueDepth.Add(ctx, 1)
	m.notifier.NotifyNewAlert(ctx, out)

	m.log.Info("handoff triggered",
		"call_id", state.CallID,
		"alert_id", alert.ID,
		"trigger", trigger,
		"priority", priority,
		"position", position,
	)
	return out, nil
}

// AssignAgent removes the alert from the queue and hands it to agentID.
// Only QUEUED alerts can be assigned.
func (m *Manager) AssignAgent(ctx context.Context, alertID, agentID string) (*conv.HandoffAlert, error) {
	m.mu.Lock()
	alert, ok := m.queue.get(alertID)
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	if alert.Status != conv.StatusQueued {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidState, alertID, alert.Status, conv.StatusQueued)
	}

	m.queue.remove(alertID)
	now := m.now().UTC()
	alert.Status = conv.StatusAssigned
	alert.AssignedAgentID = agentID
	alert.AssignedAt = &now
	alert.QueuePosition = 0

	m.active[alert.CallID] = alert
	m.activeByID[alert.ID] = alert

	out := alert.Clone()
	m.mu.Unlock()

	m.metrics.QueueDepth.Add(ctx, -1)
	m.notifier.NotifyUpdate(ctx, out, "assigned")

	m.log.Info("agent assigned", "alert_id", alertID, "agent_id", agentID, "call_id", out.CallID)
	return out, nil
}

// StartHandoffCall transfers the call: mints the operator join token and
// moves the alert to IN_PROGRESS. The alert must be ASSIGNED. When the
// minter fails the alert stays ASSIGNED and the error is surfaced.
func (m *Manager) StartHandoffCall(ctx context.Context, alertID string) (*TransferInfo, error) {
	m.mu.Lock()
	alert, ok := m.activeByID[alertID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	if alert.Status != conv.StatusAssigned {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidState, alertID, alert.Status, conv.StatusAssigned)
	}
	roomName, agentID := alert.RoomName, alert.AssignedAgentID
	m.mu.Unlock()

	// Mint outside the lock and before any transition: a minter failure
	// must leave the alert ASSIGNED.
	token, err := m.minter.MintOperatorToken(roomName, agentID, "Support Agent", m.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint operator token for alert %s: %w", alertID, err)
	}

	m.mu.Lock()
	alert, ok = m.activeByID[alertID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	if alert.Status != conv.StatusAssigned {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidState, alertID, alert.Status, conv.StatusAssigned)
	}
	now := m.now().UTC()
	alert.Status = conv.StatusInProgress
	alert.StartedAt = &now
	out := alert.Clone()
	m.mu.Unlock()

	m.metrics.TokensMinted.Add(ctx, 1)
	m.notifier.NotifyUpdate(ctx, out, "started")

	m.log.Info("handoff call started", "alert_id", alertID, "call_id", out.CallID, "agent_id", agentID)
	return &TransferInfo{
		Status:    "started",
		AlertID:   out.ID,
		CallID:    out.CallID,
		RoomName:  out.RoomName,
		AgentID:   agentID,
		JoinURL:   m.joinURL,
		JoinToken: token,
	}, nil
}

// CompleteHandoff closes out the alert: any non-terminal state moves to
// COMPLETED and the alert lands in the completed log. An unknown id is a
// logged no-op.
func (m *Manager) CompleteHandoff(ctx context.Context, alertID, resolution, notes string) {
	m.mu.Lock()
	var (
		alert     *conv.HandoffAlert
		fromQueue bool
	)
	if a, ok := m.activeByID[alertID]; ok {
		alert = a
		delete(m.activeByID, alertID)
		delete(m.active, a.CallID)
	} else if a := m.queue.remove(alertID); a != nil {
		alert = a
		fromQueue = true
	}
	if alert == nil {
		m.mu.Unlock()
		m.log.Warn("complete requested for unknown handoff", "alert_id", alertID)
		return
	}

	now := m.now().UTC()
	alert.Status = conv.StatusCompleted
	alert.CompletedAt = &now
	alert.Resolution = resolution
	alert.Notes = notes
	alert.QueuePosition = 0
	m.completed = append(m.completed, alert)

	out := alert.Clone()
	m.mu.Unlock()

	if fromQueue {
		m.metrics.QueueDepth.Add(ctx, -1)
	}
	m.notifier.NotifyUpdate(ctx, out, "completed")

	m.log.Info("handoff completed", "alert_id", alertID, "resolution", resolution)
}

// Status reports where the call sits in the handoff lifecycle, or false when
// no handoff exists for the call.
func (m *Manager) Status(callID string) (*CallStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.queue.getByCallID(callID); ok {
		return &CallStatus{
			Status:               a.Status,
			QueuePosition:        a.QueuePosition,
			EstimatedWaitSeconds: a.EstimatedWaitSeconds,
		}, true
	}
	if a, ok := m.active[callID]; ok {
		st := &CallStatus{
			Status:  a.Status,
			AgentID: a.AssignedAgentID,
		}
		if a.StartedAt != nil {
			t := *a.StartedAt
			st.StartedAt = &t
		}
		return st, true
	}
	return nil, false
}

// Alert returns a clone of the alert with the given id, searching the
// queue, the active set and the completed log.
func (m *Manager) Alert(alertID string) (*conv.HandoffAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.queue.get(alertID); ok {
		return a.Clone(), true
	}
	if a, ok := m.activeByID[alertID]; ok {
		return a.Clone(), true
	}
	for _, a := range m.completed {
		if a.ID == alertID {
			return a.Clone(), true
		}
	}
	return nil, false
}

// AlertByCallID returns a clone of the live (queued or active) alert for
// the call.
func (m *Manager) AlertByCallID(callID string) (*conv.HandoffAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.queue.getByCallID(callID); ok {
		return a.Clone(), true
	}
	if a, ok := m.active[callID]; ok {
		return a.Clone(), true
	}
	return nil, false
}

// QueueSnapshot returns clones of the queued alerts in dequeue order.
func (m *Manager) QueueSnapshot() []*conv.HandoffAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.queue.all()
	out := make([]*conv.HandoffAlert, len(items))
	for i, a := range items {
		out[i] = a.Clone()
	}
	return out
}

// Stats aggregates the queue: size, per-priority counts and the mean time
// queued alerts have been waiting.
func (m *Manager) Stats() QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPriority := map[string]int{
		string(conv.PriorityUrgent): 0,
		string(conv.PriorityHigh):   0,
		string(conv.PriorityMedium): 0,
		string(conv.PriorityLow):    0,
	}
	now := m.now().UTC()
	var waitSum float64
	var waiting int
	for _, a := range m.queue.all() {
		byPriority[string(a.Priority)]++
		if a.Status == conv.StatusQueued {
			waitSum += now.Sub(a.CreatedAt).Seconds()
			waiting++
		}
	}

	stats := QueueStats{
		Total:      m.queue.len(),
		ByPriority: byPriority,
	}
	if waiting > 0 {
		stats.AvgWaitSeconds = waitSum / float64(waiting)
	}
	return stats
}

// Brief renders the quick-glance card an operator sees before accepting:
// caller identity, headline, sentiment and the scripted first moves. The
// alert may be queued or active; completed alerts have no brief.
func (m *Manager) Brief(alertID string) (*conv.AgentBrief, bool) {
	m.mu.Lock()
	alert, ok := m.queue.get(alertID)
	if !ok {
		alert, ok = m.activeByID[alertID]
	}
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	alert = alert.Clone()
	m.mu.Unlock()

	trend := "stable"
	if alert.DetailedSummary != nil && containsFold(alert.DetailedSummary.DetailedSummary, "declining") {
		trend = "declining"
	}

	topEntities := make(map[string]any)
	turns := alert.ConversationTurns
	if len(turns) > 5 {
		turns = turns[len(turns)-5:]
	}
	for _, t := range turns {
		if t.NLU == nil {
			continue
		}
		for k, v := range t.NLU.Entities {
			topEntities[k] = v
		}
	}

	actions := alert.NextStepsForAgent
	if actions == nil {
		actions = []conv.SuggestedAction{}
	}
	return &conv.AgentBrief{
		DriverName:            alert.Driver.Name,
		DriverPhoneLast4:      alert.Driver.PhoneLast4(),
		DriverCity:            alert.Driver.City,
		Language:              alert.Driver.PreferredLanguage,
		TopEntities:           topEntities,
		Summary:               alert.IssueSummary,
		EscalationReason:      alert.Trigger.Title(),
		EscalationDescription: alert.TriggerDescription,
		Sentiment:             alert.Sentiment,
		SentimentScore:        alert.SentimentScore,
		SuggestedActions:      actions,
		ConfidenceTrend:       trend,
	}, true
}

// QueueLen returns the number of queued alerts.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// ActiveCount returns the number of assigned or in-progress handoffs.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CompletedCount returns the size of the completed log.
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
