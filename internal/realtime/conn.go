package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/log"
)

const (
	// Send buffer size for outbound messages
	sendBufferSize = 256

	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message
	pongWait = 30 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size
	maxMessageSize = 64 * 1024
)

// Conn represents one WebSocket connection for an authenticated user.
type Conn struct {
	id        string
	userID    string
	ws        *websocket.Conn
	hub       *Hub
	send      chan []byte // outbound message queue
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID string, hub *Hub) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// UserID returns the authenticated user that owns the connection.
func (c *Conn) UserID() string {
	return c.userID
}

// Push implements dispatch.Sender: it encodes an event frame and queues it,
// bounded by the dispatcher's per-connection timeout.
func (c *Conn) Push(ctx context.Context, ev dispatch.Event) error {
	msg := NewEventMessage(string(ev.Type), ev.Channel.String(), ev.Payload)
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		return fmt.Errorf("push timed out: %w", ctx.Err())
	}
}

// reply queues a reply frame, dropping it if the buffer is full.
func (c *Conn) reply(msg *ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn("realtime: send buffer full, dropping reply", "conn_id", c.id)
	}
}

// Close tears the connection down exactly once, running the shared
// disconnect path.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
		if c.hub != nil {
			c.hub.disconnect(c)
		}
	})
}

// ReadPump reads frames from the WebSocket connection until it closes.
func (c *Conn) ReadPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.registry.Touch(c.id)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("realtime: read error", "conn_id", c.id, "error", err.Error())
			}
			return
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			log.Debug("realtime: invalid message", "conn_id", c.id, "error", err.Error())
			continue
		}

		c.handleMessage(msg)
	}
}

// WritePump writes queued frames and pings to the WebSocket connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleMessage routes an inbound frame. Every inbound call refreshes the
// connection's liveness.
func (c *Conn) handleMessage(msg *ClientMessage) {
	c.hub.registry.Touch(c.id)

	log.Debug("realtime: handleMessage", "conn_id", c.id, "action", msg.Action)

	var err error
	switch msg.Action {
	case ActionHeartbeat:
		err = c.hub.Heartbeat(c)
	case ActionJoinWorkspace:
		err = c.withWorkspace(msg, c.hub.JoinWorkspace)
	case ActionLeaveWorkspace:
		err = c.withWorkspace(msg, c.hub.LeaveWorkspace)
	case ActionWatchEntity:
		err = c.withEntity(msg, c.hub.WatchEntity)
	case ActionUnwatchEntity:
		err = c.withEntity(msg, c.hub.UnwatchEntity)
	case ActionStartTyping:
		err = c.withEntity(msg, func(conn *Conn, entityID string) error {
			return c.hub.SetTyping(conn, entityID, true)
		})
	case ActionStopTyping:
		err = c.withEntity(msg, func(conn *Conn, entityID string) error {
			return c.hub.SetTyping(conn, entityID, false)
		})
	case ActionMarkNotificationRead:
		err = c.handleMarkNotificationRead(msg)
	default:
		log.Debug("realtime: unknown action", "conn_id", c.id, "action", msg.Action)
		c.reply(NewErrorReply(msg.Ref, "unknown_action", msg.Action))
		return
	}

	if err != nil {
		c.reply(NewErrorReply(msg.Ref, "operation_failed", err.Error()))
		return
	}
	c.reply(NewReply(msg.Ref, map[string]any{}))
}

func (c *Conn) withWorkspace(msg *ClientMessage, fn func(*Conn, string) error) error {
	workspaceID, err := StringField(msg.Payload, "workspace_id")
	if err != nil {
		return err
	}
	return fn(c, workspaceID)
}

func (c *Conn) withEntity(msg *ClientMessage, fn func(*Conn, string) error) error {
	entityID, err := StringField(msg.Payload, "entity_id")
	if err != nil {
		return err
	}
	return fn(c, entityID)
}

func (c *Conn) handleMarkNotificationRead(msg *ClientMessage) error {
	notificationID, err := StringField(msg.Payload, "notification_id")
	if err != nil {
		return err
	}
	return c.hub.MarkNotificationRead(c, notificationID)
}
