// Package client implements the consuming edge of the pulse coordinator:
// one logical connection with an explicit reconnect state machine, capped
// exponential backoff and subscription replay.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection state visible to the consuming UI. Connect
// failures surface only here, never as an error interrupting callers.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Event is a server push received on a subscribed channel.
type Event struct {
	Type    string         `json:"event"`
	Channel string         `json:"channel"`
	Payload map[string]any `json:"payload"`
}

// EventHandler consumes one pushed event.
type EventHandler func(Event)

// StateHandler observes connection-state transitions.
type StateHandler func(State)

// Config holds client configuration.
type Config struct {
	URL   string // ws endpoint, e.g. ws://localhost:8090/realtime/v1/websocket
	Token string // signed identity token

	BaseDelay   time.Duration // backoff base (default 1s)
	MaxDelay    time.Duration // backoff cap (default 60s)
	MaxAttempts int           // reconnect attempts before giving up (0 = unlimited)

	HeartbeatInterval time.Duration // liveness signal period (default 20s)

	Dialer *websocket.Dialer
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// wire frame shapes, mirroring the server protocol
type clientFrame struct {
	Action  string         `json:"action"`
	Ref     string         `json:"ref,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type serverFrame struct {
	Type    string         `json:"type"`
	Ref     string         `json:"ref,omitempty"`
	Status  string         `json:"status,omitempty"`
	Event   string         `json:"event,omitempty"`
	Channel string         `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Client owns the single logical connection to the coordinator.
type Client struct {
	cfg Config

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	attempt   int
	refSeq    int
	workspace string              // joined workspace, replayed on reconnect
	watched   map[string]struct{} // watched entities, replayed on reconnect
	queued    []clientFrame       // frames issued before Connected
	cancel    context.CancelFunc
	runDone   chan struct{}

	handlerMu sync.RWMutex
	handlers  map[string][]EventHandler
	onState   []StateHandler

	states chan State
}

// New creates a client. Call Start to connect.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		state:    StateDisconnected,
		watched:  make(map[string]struct{}),
		handlers: make(map[string][]EventHandler),
		states:   make(chan State, 16),
	}
	go c.notifyLoop()
	return c
}

// On registers a handler for an event type (UserJoined, UserLeft, Typing,
// EntityUpdated, NotificationReceived).
func (c *Client) On(eventType string, h EventHandler) {
	c.handlerMu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
	c.handlerMu.Unlock()
}

// OnStateChange registers a handler for state transitions.
func (c *Client) OnStateChange(h StateHandler) {
	c.handlerMu.Lock()
	c.onState = append(c.onState, h)
	c.handlerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the connection and begins the reconnect loop. Calling Start
// on a client that is not disconnected is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runDone = make(chan struct{})
	c.attempt = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop moves the client to Disconnected from any state, cancelling any
// pending retry. No retry is ever scheduled after Stop.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.runDone
	conn := c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.conn = nil
	c.queued = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// JoinWorkspace binds the connection to a workspace. Issued before the
// handshake completes, the call is queued and flushed once connected.
func (c *Client) JoinWorkspace(workspaceID string) {
	c.mu.Lock()
	c.workspace = workspaceID
	c.sendOrQueueLocked(clientFrame{
		Action:  "join_workspace",
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"workspace_id": workspaceID},
	})
	c.mu.Unlock()
}

// LeaveWorkspace unbinds the connection from a workspace.
func (c *Client) LeaveWorkspace(workspaceID string) {
	c.mu.Lock()
	if c.workspace == workspaceID {
		c.workspace = ""
	}
	c.sendOrQueueLocked(clientFrame{
		Action:  "leave_workspace",
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"workspace_id": workspaceID},
	})
	c.mu.Unlock()
}

// UpdateLastSeen sends an explicit liveness signal.
func (c *Client) UpdateLastSeen() {
	c.mu.Lock()
	c.sendOrQueueLocked(clientFrame{Action: "heartbeat", Ref: c.nextRefLocked()})
	c.mu.Unlock()
}

// WatchEntity subscribes to an entity's typing channel.
func (c *Client) WatchEntity(entityID string) {
	c.mu.Lock()
	c.watched[entityID] = struct{}{}
	c.sendOrQueueLocked(clientFrame{
		Action:  "watch_entity",
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"entity_id": entityID},
	})
	c.mu.Unlock()
}

// UnwatchEntity drops an entity's typing channel.
func (c *Client) UnwatchEntity(entityID string) {
	c.mu.Lock()
	delete(c.watched, entityID)
	c.sendOrQueueLocked(clientFrame{
		Action:  "unwatch_entity",
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"entity_id": entityID},
	})
	c.mu.Unlock()
}

// StartTyping broadcasts a typing indicator for an entity.
func (c *Client) StartTyping(entityID string) {
	c.setTyping(entityID, true)
}

// StopTyping clears a typing indicator for an entity.
func (c *Client) StopTyping(entityID string) {
	c.setTyping(entityID, false)
}

func (c *Client) setTyping(entityID string, isTyping bool) {
	action := "stop_typing"
	if isTyping {
		action = "start_typing"
	}
	c.mu.Lock()
	c.watched[entityID] = struct{}{}
	c.sendOrQueueLocked(clientFrame{
		Action:  action,
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"entity_id": entityID},
	})
	c.mu.Unlock()
}

// MarkNotificationRead forwards a read receipt to the notification store.
func (c *Client) MarkNotificationRead(notificationID string) {
	c.mu.Lock()
	c.sendOrQueueLocked(clientFrame{
		Action:  "mark_notification_read",
		Ref:     c.nextRefLocked(),
		Payload: map[string]any{"notification_id": notificationID},
	})
	c.mu.Unlock()
}

// run is the connect/reconnect loop. It exits only when the context is
// cancelled (Stop) or the attempt budget is exhausted.
func (c *Client) run(ctx context.Context) {
	defer close(c.runDone)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.scheduleRetry(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		c.setStateLocked(StateConnected)
		c.replayLocked()
		c.flushQueueLocked()
		c.mu.Unlock()

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go c.heartbeatLoop(hbCtx, conn)

		c.readLoop(conn)
		stopHeartbeat()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if !c.scheduleRetry(ctx) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.cfg.URL
	if c.cfg.Token != "" {
		url += "?token=" + c.cfg.Token
	}
	conn, _, err := c.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// scheduleRetry waits out the backoff delay. Returns false when the client
// should give up (cancelled or out of attempts).
func (c *Client) scheduleRetry(ctx context.Context) bool {
	c.mu.Lock()
	if c.cfg.MaxAttempts > 0 && c.attempt >= c.cfg.MaxAttempts {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return false
	}
	delay := c.backoffDelayLocked()
	c.attempt++
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelayLocked computes min(base * 2^attempt, cap).
func (c *Client) backoffDelayLocked() time.Duration {
	delay := c.cfg.BaseDelay
	for i := 0; i < c.attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

// replayLocked re-issues the channel subscriptions held before the
// disconnect, so callers never notice a transparent reconnect.
// Subscriptions already covered by a queued frame are skipped so the flush
// that follows does not repeat them.
func (c *Client) replayLocked() {
	if c.workspace != "" && !c.queuedCoversLocked("join_workspace", "workspace_id", c.workspace) {
		c.writeLocked(clientFrame{
			Action:  "join_workspace",
			Ref:     c.nextRefLocked(),
			Payload: map[string]any{"workspace_id": c.workspace},
		})
	}
	for entityID := range c.watched {
		if c.queuedCoversLocked("watch_entity", "entity_id", entityID) {
			continue
		}
		c.writeLocked(clientFrame{
			Action:  "watch_entity",
			Ref:     c.nextRefLocked(),
			Payload: map[string]any{"entity_id": entityID},
		})
	}
}

func (c *Client) queuedCoversLocked(action, field, value string) bool {
	for _, frame := range c.queued {
		if frame.Action == action && frame.Payload[field] == value {
			return true
		}
	}
	return false
}

func (c *Client) flushQueueLocked() {
	for _, frame := range c.queued {
		c.writeLocked(frame)
	}
	c.queued = nil
}

// sendOrQueueLocked writes a frame when connected, otherwise queues it for
// the flush that follows the handshake. Caller holds c.mu.
func (c *Client) sendOrQueueLocked(frame clientFrame) {
	if c.state == StateConnected && c.conn != nil {
		c.writeLocked(frame)
		return
	}
	c.queued = append(c.queued, frame)
}

// writeLocked serializes one outbound frame. Caller holds c.mu, which is
// what keeps transport writes single-threaded.
func (c *Client) writeLocked(frame clientFrame) {
	if c.conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// The read loop observes the broken transport and drives reconnect.
		return
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == conn {
				c.writeLocked(clientFrame{Action: "heartbeat", Ref: c.nextRefLocked()})
			}
			c.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error { return nil })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "event" {
			continue
		}

		c.dispatch(Event{
			Type:    frame.Event,
			Channel: frame.Channel,
			Payload: frame.Payload,
		})
	}
}

func (c *Client) dispatch(ev Event) {
	c.handlerMu.RLock()
	handlers := append([]EventHandler(nil), c.handlers[ev.Type]...)
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// setStateLocked updates the state and queues the transition for observers.
// Caller holds c.mu. Observers see transitions in order; a full queue drops
// the transition rather than blocking the state machine.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s

	select {
	case c.states <- s:
	default:
	}
}

// notifyLoop delivers state transitions to observers one at a time.
func (c *Client) notifyLoop() {
	for s := range c.states {
		c.handlerMu.RLock()
		observers := append([]StateHandler(nil), c.onState...)
		c.handlerMu.RUnlock()

		for _, h := range observers {
			h(s)
		}
	}
}

func (c *Client) nextRefLocked() string {
	c.refSeq++
	return strconv.Itoa(c.refSeq)
}
