// Package router maps connections to the logical channels they subscribe to.
//
// Subscriptions are indexed both by channel (for fan-out) and by connection
// (so a disconnect can drop every subscription in one pass).
package router

import (
	"fmt"
	"sync"
)

// ChannelKey identifies a logical broadcast group.
type ChannelKey string

// Channel key constructors. Keys are discriminated by prefix so a raw key
// in a log line or wire frame is self-describing.
func WorkspaceChannel(workspaceID string) ChannelKey {
	return ChannelKey("workspace:" + workspaceID)
}

func TypingChannel(entityID string) ChannelKey {
	return ChannelKey("entity-typing:" + entityID)
}

func NotificationChannel(userID string) ChannelKey {
	return ChannelKey("user-notifications:" + userID)
}

func (k ChannelKey) String() string { return string(k) }

// Router holds the channel membership index.
type Router struct {
	mu        sync.RWMutex
	byChannel map[ChannelKey]map[string]struct{} // channel -> connIDs
	byConn    map[string]map[ChannelKey]struct{} // connID -> channels
}

// New creates an empty router.
func New() *Router {
	return &Router{
		byChannel: make(map[ChannelKey]map[string]struct{}),
		byConn:    make(map[string]map[ChannelKey]struct{}),
	}
}

// Join subscribes a connection to a channel. Joining twice is a no-op.
func (r *Router) Join(connID string, key ChannelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byChannel[key] == nil {
		r.byChannel[key] = make(map[string]struct{})
	}
	r.byChannel[key][connID] = struct{}{}

	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[ChannelKey]struct{})
	}
	r.byConn[connID][key] = struct{}{}
}

// Leave removes one subscription. Leaving a channel the connection never
// joined is a no-op.
func (r *Router) Leave(connID string, key ChannelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, key)
}

// LeaveAll removes every subscription held by a connection. It is
// idempotent: a second call (e.g. explicit disconnect racing a reap)
// observes empty membership and changes nothing.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.byConn[connID] {
		r.leaveLocked(connID, key)
	}
}

// caller holds r.mu
func (r *Router) leaveLocked(connID string, key ChannelKey) {
	if members, ok := r.byChannel[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byChannel, key)
		}
	}
	if channels, ok := r.byConn[connID]; ok {
		delete(channels, key)
		if len(channels) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// MembersOf returns a snapshot of the connection IDs subscribed to a channel.
func (r *Router) MembersOf(key ChannelKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byChannel[key]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// ChannelsOf returns a snapshot of the channels a connection is subscribed to.
func (r *Router) ChannelsOf(connID string) []ChannelKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := r.byConn[connID]
	out := make([]ChannelKey, 0, len(channels))
	for key := range channels {
		out = append(out, key)
	}
	return out
}

// Stats describes current channel membership.
type Stats struct {
	Channels      int            `json:"channels"`
	Subscriptions int            `json:"subscriptions"`
	Members       map[string]int `json:"members"`
}

// Stats returns a snapshot of membership counts per channel.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Channels: len(r.byChannel),
		Members:  make(map[string]int, len(r.byChannel)),
	}
	for key, members := range r.byChannel {
		s.Members[fmt.Sprint(key)] = len(members)
		s.Subscriptions += len(members)
	}
	return s
}
