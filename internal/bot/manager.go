// Package bot manages the outbound voice-bot sessions, one per room. A
// session is the bridge between a telephony room and the conversation core:
// it owns the call's pipeline feed and lives until the call ends or the
// platform asks the bot to leave.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/events"
	"github.com/sahaya-ai/sahaya/internal/observe"
	"github.com/sahaya-ai/sahaya/internal/pipeline"
)

// SessionState is the lifecycle phase of one bot session.
type SessionState string

const (
	StateJoining SessionState = "joining"
	StateActive  SessionState = "active"
	StateLeaving SessionState = "leaving"
	StateStopped SessionState = "stopped"
	StateError   SessionState = "error"
)

// ErrNoSession is returned for rooms without a bot.
var ErrNoSession = errors.New("bot: no session in room")

// SessionInfo is the wire projection of one session.
type SessionInfo struct {
	RoomName string       `json:"room_name"`
	CallID   string       `json:"call_id"`
	IsActive bool         `json:"is_active"`
	State    SessionState `json:"state"`
	JoinedAt time.Time    `json:"joined_at"`
}

// session is one live bot. State moves under the manager lock.
type session struct {
	roomName string
	callID   string
	joinedAt time.Time
	state    SessionState
	feed     *pipeline.CallFeed
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		RoomName: s.roomName,
		CallID:   s.callID,
		IsActive: s.state == StateActive,
		State:    s.state,
		JoinedAt: s.joinedAt,
	}
}

// Manager owns every live bot session. One bot per room; a second join for
// the same room returns the existing session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	adapter *pipeline.Adapter
	emitter *events.Emitter

	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter wires the backend event emitter for bot_ready/call_ended.
func WithEmitter(e *events.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics sink; defaults to [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source. Test use.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns an empty Manager feeding calls into the adapter.
func New(adapter *pipeline.Adapter, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*session),
		adapter:  adapter,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join puts a bot into the room and starts tracking the call. Joining a
// room that already has a bot is idempotent: the existing session's info
// comes back with a warning, no new session.
func (m *Manager) Join(ctx context.Context, roomName, callID string, driver conv.DriverInfo) (SessionInfo, error) {
	if roomName == "" || callID == "" {
		return SessionInfo{}, errors.New("bot: room name and call id are required")
	}

	m.mu.Lock()
	if existing, ok := m.sessions[roomName]; ok {
		info := existing.info()
		m.mu.Unlock()
		m.log.Warn("bot already in room", "room", roomName, "call_id", existing.callID)
		return info, nil
	}

	s := &session{
		roomName: roomName,
		callID:   callID,
		joinedAt: m.now().UTC(),
		state:    StateJoining,
	}
	m.sessions[roomName] = s
	m.mu.Unlock()

	feed := m.adapter.StartCall(callID, roomName, driver)

	m.mu.Lock()
	s.feed = feed
	s.state = StateActive
	info := s.info()
	m.mu.Unlock()

	m.metrics.ActiveBots.Add(ctx, 1)
	if m.emitter != nil {
		m.emitter.EmitBotReady(ctx, callID)
	}
	m.log.Info("bot joined room", "room", roomName, "call_id", callID)
	return info, nil
}

// Deliver routes a pipeline event to the room's call feed.
func (m *Manager) Deliver(ctx context.Context, roomName string, ev pipeline.Event) error {
	m.mu.Lock()
	s, ok := m.sessions[roomName]
	var feed *pipeline.CallFeed
	if ok {
		feed = s.feed
	}
	m.mu.Unlock()

	if !ok || feed == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, roomName)
	}
	return feed.Send(ctx, ev)
}

// Leave stops the room's bot: the feed drains for up to five seconds, then
// the consumer is force-cancelled. A room without a bot is a logged no-op.
func (m *Manager) Leave(ctx context.Context, roomName string) error {
	m.mu.Lock()
	s, ok := m.sessions[roomName]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("no bot in room", "room", roomName)
		return fmt.Errorf("%w: %s", ErrNoSession, roomName)
	}
	s.state = StateLeaving
	feed := s.feed
	m.mu.Unlock()

	var turns int
	if summary, ok := m.adapter.Tracker().Summary(s.callID); ok {
		turns = summary.TurnCount
	}
	if feed != nil {
		feed.Close()
	}

	m.mu.Lock()
	s.state = StateStopped
	delete(m.sessions, roomName)
	m.mu.Unlock()

	m.metrics.ActiveBots.Add(ctx, -1)
	if m.emitter != nil {
		m.emitter.EmitCallEnded(ctx, s.callID, turns)
	}
	m.log.Info("bot left room", "room", roomName, "call_id", s.callID)
	return nil
}

// Status returns the session info for the room's bot.
func (m *Manager) Status(roomName string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomName]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// List returns the info of every live session in no particular order.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every bot. Sessions leave concurrently; each bounded by
// the feed's drain timeout.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.sessions))
	for room := range m.sessions {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	m.log.Info("stopping bots", "count", len(rooms))

	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Leave(ctx, room); err != nil && !errors.Is(err, ErrNoSession) {
				m.log.Error("bot shutdown failed", "room", room, "err", err)
			}
		}()
	}
	wg.Wait()
	m.log.Info("all bots stopped")
}
