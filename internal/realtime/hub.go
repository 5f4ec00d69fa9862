package realtime

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/observability"
	"github.com/openteams/pulse/internal/presence"
	"github.com/openteams/pulse/internal/registry"
	"github.com/openteams/pulse/internal/router"
)

// NotificationStore is the external notification store the coordinator
// forwards mark-read calls to. It never stores notifications itself.
type NotificationStore interface {
	MarkRead(notificationID, userID string) error
}

// Hub owns the live connections and wires the registry, router, presence
// adapter and dispatcher into the operations the wire protocol exposes.
type Hub struct {
	registry      *registry.Registry
	router        *router.Router
	presence      *presence.Adapter
	notifications NotificationStore
	dispatcher    *dispatch.Dispatcher
	metrics       *observability.Metrics // may be nil

	mu    sync.RWMutex
	conns map[string]*Conn
}

// HubStats contains realtime statistics for the admin surface.
type HubStats struct {
	Connections   int            `json:"connections"`
	Channels      int            `json:"channels"`
	Subscriptions int            `json:"subscriptions"`
	Members       map[string]int `json:"members"`
}

// NewHub creates a hub and its dispatcher.
func NewHub(reg *registry.Registry, rt *router.Router, pres *presence.Adapter,
	notifications NotificationStore, dispatchCfg dispatch.Config) *Hub {

	h := &Hub{
		registry:      reg,
		router:        rt,
		presence:      pres,
		notifications: notifications,
		conns:         make(map[string]*Conn),
	}
	h.dispatcher = dispatch.New(dispatchCfg, rt, h.evictByID)
	return h
}

// SetMetrics attaches metric instruments. Safe to leave unset.
func (h *Hub) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// Connect registers a new connection for a pre-authenticated user and
// subscribes it to the user's notification channel.
func (h *Hub) Connect(ws *websocket.Conn, userID string) *Conn {
	conn := newConn(ws, userID, h)

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	h.registry.Register(conn.id, userID)
	h.dispatcher.Attach(conn)
	h.router.Join(conn.id, router.NotificationChannel(userID))

	h.metrics.ConnectionOpened()
	log.Info("realtime: connection opened", "conn_id", conn.id, "user_id", userID)
	return conn
}

// JoinWorkspace binds the connection to a workspace, marks presence online
// and broadcasts UserJoined. Rebinding moves the connection out of its
// previous workspace first.
func (h *Hub) JoinWorkspace(c *Conn, workspaceID string) error {
	prev, _ := h.registry.Get(c.id)

	if !h.registry.BindWorkspace(c.id, workspaceID) {
		return fmt.Errorf("unknown connection %s", c.id)
	}

	if prev.WorkspaceID != "" && prev.WorkspaceID != workspaceID {
		h.router.Leave(c.id, router.WorkspaceChannel(prev.WorkspaceID))
		h.demoteIfGone(c.userID, prev.WorkspaceID)
	}

	h.router.Join(c.id, router.WorkspaceChannel(workspaceID))

	// Presence is best-effort: a failed write self-heals on the next
	// heartbeat or join touching this pair.
	if err := h.presence.MarkOnline(c.userID, workspaceID, c.id); err != nil {
		log.Warn("realtime: presence write failed", "user_id", c.userID,
			"workspace_id", workspaceID, "error", err.Error())
	}

	h.publish(dispatch.Event{
		Channel: router.WorkspaceChannel(workspaceID),
		Type:    dispatch.UserJoined,
		Payload: map[string]any{
			"user_id":      c.userID,
			"workspace_id": workspaceID,
		},
	})
	return nil
}

// LeaveWorkspace unbinds the connection and broadcasts UserLeft.
func (h *Hub) LeaveWorkspace(c *Conn, workspaceID string) error {
	h.router.Leave(c.id, router.WorkspaceChannel(workspaceID))

	if !h.registry.UnbindWorkspace(c.id) {
		return fmt.Errorf("unknown connection %s", c.id)
	}

	if err := h.presence.MarkOfflineIfNoConnections(c.userID, workspaceID); err != nil {
		log.Warn("realtime: presence demotion failed", "user_id", c.userID,
			"workspace_id", workspaceID, "error", err.Error())
	}

	h.publish(dispatch.Event{
		Channel: router.WorkspaceChannel(workspaceID),
		Type:    dispatch.UserLeft,
		Payload: map[string]any{
			"user_id":      c.userID,
			"workspace_id": workspaceID,
		},
	})
	return nil
}

// Heartbeat refreshes liveness and durable last-seen for the user.
func (h *Hub) Heartbeat(c *Conn) error {
	h.registry.Touch(c.id)
	if err := h.presence.Heartbeat(c.userID); err != nil {
		// Best-effort; the next heartbeat retries.
		log.Warn("realtime: heartbeat write failed", "user_id", c.userID, "error", err.Error())
	}
	return nil
}

// WatchEntity subscribes the connection to an entity's typing channel.
func (h *Hub) WatchEntity(c *Conn, entityID string) error {
	h.router.Join(c.id, router.TypingChannel(entityID))
	return nil
}

// UnwatchEntity drops the subscription to an entity's typing channel.
func (h *Hub) UnwatchEntity(c *Conn, entityID string) error {
	h.router.Leave(c.id, router.TypingChannel(entityID))
	return nil
}

// SetTyping broadcasts a typing indicator to the entity's channel,
// excluding the sender. Starting to type implies watching the entity.
func (h *Hub) SetTyping(c *Conn, entityID string, isTyping bool) error {
	key := router.TypingChannel(entityID)
	h.router.Join(c.id, key)

	h.publish(dispatch.Event{
		Channel:            key,
		Type:               dispatch.Typing,
		OriginConnectionID: c.id,
		ExcludeOrigin:      true,
		Payload: map[string]any{
			"user_id":   c.userID,
			"entity_id": entityID,
			"is_typing": isTyping,
		},
	})
	return nil
}

// MarkNotificationRead forwards to the notification store.
func (h *Hub) MarkNotificationRead(c *Conn, notificationID string) error {
	if h.notifications == nil {
		return fmt.Errorf("notification store unavailable")
	}
	return h.notifications.MarkRead(notificationID, c.userID)
}

// PublishNotification pushes a durable notification record to the owning
// user's channel. The dispatcher only forwards; the record itself lives in
// the notification store.
func (h *Hub) PublishNotification(userID string, payload map[string]any) dispatch.DeliveryReport {
	ev := dispatch.Event{
		Channel: router.NotificationChannel(userID),
		Type:    dispatch.NotificationReceived,
		Payload: payload,
	}
	h.metrics.EventPublished(string(ev.Type))
	return h.dispatcher.PublishSync(ev)
}

// PublishEntityUpdated broadcasts an entity change to its workspace channel.
// Called by CRUD command handlers after a successful write.
func (h *Hub) PublishEntityUpdated(workspaceID string, payload map[string]any) {
	h.publish(dispatch.Event{
		Channel: router.WorkspaceChannel(workspaceID),
		Type:    dispatch.EntityUpdated,
		Payload: payload,
	})
}

// publish fires an event without waiting on fan-out.
func (h *Hub) publish(ev dispatch.Event) {
	h.metrics.EventPublished(string(ev.Type))
	h.dispatcher.Publish(ev)
}

// disconnect is the single teardown path, shared by explicit closes, push
// eviction and the reaper. UserLeft is broadcast only when the user's last
// connection for the bound pair goes away, matching the presence demotion.
func (h *Hub) disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.dispatcher.Detach(c.id)
	h.router.LeaveAll(c.id)

	entry, ok := h.registry.Unregister(c.id)
	if !ok {
		return
	}
	h.metrics.ConnectionClosed()
	log.Info("realtime: connection closed", "conn_id", c.id, "user_id", entry.UserID)

	if entry.WorkspaceID != "" {
		h.demoteIfGone(entry.UserID, entry.WorkspaceID)
	}
}

// demoteIfGone demotes presence for a pair and broadcasts UserLeft when no
// sibling connection remains.
func (h *Hub) demoteIfGone(userID, workspaceID string) {
	remaining := h.registry.ConnectionsFor(userID, workspaceID)

	if err := h.presence.MarkOfflineIfNoConnections(userID, workspaceID); err != nil {
		log.Warn("realtime: presence demotion failed", "user_id", userID,
			"workspace_id", workspaceID, "error", err.Error())
	}

	if remaining == 0 {
		h.publish(dispatch.Event{
			Channel: router.WorkspaceChannel(workspaceID),
			Type:    dispatch.UserLeft,
			Payload: map[string]any{
				"user_id":      userID,
				"workspace_id": workspaceID,
			},
		})
	}
}

// evictByID is the dispatcher's self-healing hook for connections whose
// pushes keep failing.
func (h *Hub) evictByID(connID string) {
	h.metrics.ConnectionEvicted("push_failure")
	h.teardownByID(connID)
}

// EvictStale implements reaper.Evictor: a silent connection is torn down
// through the same path as an explicit close.
func (h *Hub) EvictStale(entry registry.Entry) error {
	h.metrics.ConnectionEvicted("stale")
	h.teardownByID(entry.ConnectionID)
	return nil
}

func (h *Hub) teardownByID(connID string) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()

	if ok {
		conn.Close()
		return
	}

	// No live transport; clear any leftover state directly.
	h.router.LeaveAll(connID)
	if entry, found := h.registry.Unregister(connID); found && entry.WorkspaceID != "" {
		h.demoteIfGone(entry.UserID, entry.WorkspaceID)
	}
}

// Stats returns current hub statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	conns := len(h.conns)
	h.mu.RUnlock()

	rs := h.router.Stats()
	return HubStats{
		Connections:   conns,
		Channels:      rs.Channels,
		Subscriptions: rs.Subscriptions,
		Members:       rs.Members,
	}
}

// Close shuts down every connection and stops the dispatcher.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	h.dispatcher.Close()
}
