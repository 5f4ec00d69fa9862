// Package realtime implements the coordinator's WebSocket transport: the
// JSON wire protocol, the per-connection read/write pumps, and the hub that
// ties the registry, router, presence adapter and dispatcher together.
package realtime

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is a client-to-server frame.
type ClientMessage struct {
	Action  string         `json:"action"`
	Ref     string         `json:"ref,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Client actions
const (
	ActionJoinWorkspace        = "join_workspace"
	ActionLeaveWorkspace       = "leave_workspace"
	ActionHeartbeat            = "heartbeat"
	ActionWatchEntity          = "watch_entity"
	ActionUnwatchEntity        = "unwatch_entity"
	ActionStartTyping          = "start_typing"
	ActionStopTyping           = "stop_typing"
	ActionMarkNotificationRead = "mark_notification_read"
)

// ServerMessage is a server-to-client frame: either a reply correlated to a
// client ref, or an event pushed to a channel the connection subscribes to.
type ServerMessage struct {
	Type    string         `json:"type"` // "reply" or "event"
	Ref     string         `json:"ref,omitempty"`
	Status  string         `json:"status,omitempty"`  // replies: "ok" or "error"
	Event   string         `json:"event,omitempty"`   // events: event type name
	Channel string         `json:"channel,omitempty"` // events: originating channel key
	Payload map[string]any `json:"payload,omitempty"`
}

// Server frame types
const (
	TypeReply = "reply"
	TypeEvent = "event"
)

// NewReply creates an ok reply for a client ref.
func NewReply(ref string, payload map[string]any) *ServerMessage {
	return &ServerMessage{
		Type:    TypeReply,
		Ref:     ref,
		Status:  "ok",
		Payload: payload,
	}
}

// NewErrorReply creates an error reply with a machine-readable code.
func NewErrorReply(ref, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:   TypeReply,
		Ref:    ref,
		Status: "error",
		Payload: map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// NewEventMessage creates an event push frame.
func NewEventMessage(event, channel string, payload map[string]any) *ServerMessage {
	return &ServerMessage{
		Type:    TypeEvent,
		Event:   event,
		Channel: channel,
		Payload: payload,
	}
}

// Encode serializes a server message to JSON bytes.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeClientMessage parses JSON bytes into a ClientMessage.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("message has no action")
	}
	return &msg, nil
}

// StringField extracts a required string field from a payload.
func StringField(payload map[string]any, key string) (string, error) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing or empty field %q", key)
	}
	return v, nil
}
