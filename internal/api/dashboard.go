package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sahaya-ai/sahaya/internal/conv"
	"github.com/sahaya-ai/sahaya/internal/handoff"
	"github.com/sahaya-ai/sahaya/internal/notify"
	"github.com/sahaya-ai/sahaya/internal/observe"
)

// writeTimeout bounds one outbound frame to a dashboard. A socket that
// cannot take a frame within this window is pruned.
const writeTimeout = 5 * time.Second

// wsMessage is the envelope for every frame the hub sends.
type wsMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wsAlert is the compact alert card pushed over the socket.
type wsAlert struct {
	ID               string        `json:"id"`
	Priority         conv.Priority `json:"priority"`
	Trigger          conv.Trigger  `json:"trigger"`
	Summary          string        `json:"summary"`
	DriverPhoneLast4 string        `json:"driver_phone_last_4"`
	QueuePosition    int           `json:"queue_position"`
}

func wsAlertOf(a *conv.HandoffAlert) wsAlert {
	return wsAlert{
		ID:               a.ID,
		Priority:         a.Priority,
		Trigger:          a.Trigger,
		Summary:          a.IssueSummary,
		DriverPhoneLast4: a.Driver.PhoneLast4(),
		QueuePosition:    a.QueuePosition,
	}
}

// dashConn is one connected operator dashboard. Writes are serialized per
// connection so broadcasts never interleave with command replies.
type dashConn struct {
	agentID string
	conn    *websocket.Conn
	mu      sync.Mutex
}

func (c *dashConn) write(ctx context.Context, msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, msg)
}

// Hub serves the operator dashboard WebSocket and relays queue events to
// every connected dashboard. It subscribes to the alert notifier; a dead
// socket is pruned on the first failed write.
type Hub struct {
	manager *handoff.Manager

	mu    sync.Mutex
	conns map[*dashConn]struct{}

	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
}

// NewHub returns an empty hub for the given queue manager.
func NewHub(manager *handoff.Manager, log *slog.Logger, metrics *observe.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Hub{
		manager: manager,
		conns:   make(map[*dashConn]struct{}),
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

var _ notify.Subscriber = (*Hub)(nil)

// OnNewAlert pushes a new_alert card to every dashboard.
func (h *Hub) OnNewAlert(ctx context.Context, alert *conv.HandoffAlert) error {
	h.broadcast(ctx, wsMessage{
		Type:      "new_alert",
		Data:      wsAlertOf(alert),
		Timestamp: h.now().UTC(),
	})
	return nil
}

// OnAlertUpdate pushes a queue_update so dashboards can drop or restyle the
// alert's card.
func (h *Hub) OnAlertUpdate(ctx context.Context, alert *conv.HandoffAlert, event string) error {
	h.broadcast(ctx, wsMessage{
		Type: "queue_update",
		Data: map[string]any{
			"alert_id": alert.ID,
			"event":    event,
			"status":   alert.Status,
			"agent_id": alert.AssignedAgentID,
		},
		Timestamp: h.now().UTC(),
	})
	return nil
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) broadcast(ctx context.Context, msg wsMessage) {
	h.mu.Lock()
	conns := make([]*dashConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.write(ctx, msg); err != nil {
			h.log.Warn("dashboard write failed, pruning",
				"agent_id", c.agentID,
				"err", err,
			)
			h.drop(ctx, c)
		}
	}
}

func (h *Hub) drop(ctx context.Context, c *dashConn) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if present {
		h.metrics.DashboardClients.Add(ctx, -1)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// handleDashboard upgrades the request and serves one dashboard session
// until the peer disconnects. The agent identity comes from the URL path;
// authentication happens upstream at the platform gateway.
func (h *Hub) handleDashboard(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("dashboard accept failed", "agent_id", agentID, "err", err)
		return
	}

	c := &dashConn{agentID: agentID, conn: conn}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.DashboardClients.Add(r.Context(), 1)
	h.log.Info("dashboard connected", "agent_id", agentID)

	ctx := r.Context()
	defer func() {
		h.drop(context.WithoutCancel(ctx), c)
		h.log.Info("dashboard disconnected", "agent_id", agentID)
	}()

	if err := h.sendQueueSync(ctx, c); err != nil {
		return
	}

	for {
		var cmd struct {
			Type    string `json:"type"`
			AlertID string `json:"alert_id"`
		}
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		h.handleCommand(ctx, c, cmd.Type, cmd.AlertID)
	}
}

// sendQueueSync delivers the current queue so a freshly connected dashboard
// starts from a complete picture.
func (h *Hub) sendQueueSync(ctx context.Context, c *dashConn) error {
	snapshot := h.manager.QueueSnapshot()
	cards := make([]wsAlert, 0, len(snapshot))
	for _, a := range snapshot {
		cards = append(cards, wsAlertOf(a))
	}
	return c.write(ctx, wsMessage{
		Type:      "queue_sync",
		Data:      cards,
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) handleCommand(ctx context.Context, c *dashConn, cmdType, alertID string) {
	switch cmdType {
	case "ping":
		c.write(ctx, wsMessage{Type: "pong", Timestamp: h.now().UTC()})

	case "accept":
		h.handleAccept(ctx, c, alertID)

	default:
		c.write(ctx, wsMessage{
			Type:      "error",
			Message:   "unknown command: " + cmdType,
			Timestamp: h.now().UTC(),
		})
	}
}

// handleAccept claims the alert for the connected agent and replies with
// the handoff brief.
func (h *Hub) handleAccept(ctx context.Context, c *dashConn, alertID string) {
	sendErr := func(msg string) {
		c.write(ctx, wsMessage{
			Type:      "error",
			Message:   msg,
			Timestamp: h.now().UTC(),
		})
	}

	if !handoff.ValidAlertID(alertID) {
		sendErr("invalid alert id format")
		return
	}
	alert, err := h.manager.AssignAgent(ctx, alertID, c.agentID)
	if err != nil {
		sendErr(err.Error())
		return
	}
	brief, _ := h.manager.Brief(alertID)
	c.write(ctx, wsMessage{
		Type: "assignment_confirmed",
		Data: map[string]any{
			"alert_id": alert.ID,
			"call_id":  alert.CallID,
			"brief":    brief,
		},
		Timestamp: h.now().UTC(),
	})
}
