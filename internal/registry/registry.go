// Package registry tracks live realtime connections in memory.
//
// Each entry is owned exclusively by the registry; other components observe
// copies. The table is sharded by connection ID so the hot path never takes
// a global lock, and a separate pair index answers "any other live
// connection for this user/workspace?" in O(1).
package registry

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Entry describes one live connection.
type Entry struct {
	ConnectionID string
	UserID       string
	WorkspaceID  string // empty until the connection joins a workspace
	LastLiveness time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Registry is a thread-safe table of live connections.
type Registry struct {
	shards [shardCount]*shard

	pairMu sync.RWMutex
	pairs  map[pairKey]int // (user, workspace) -> live bound connections
}

type pairKey struct {
	userID      string
	workspaceID string
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{pairs: make(map[pairKey]int)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return r
}

func (r *Registry) shardFor(connID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(connID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection for a user. Registering an existing ID
// overwrites the previous entry.
func (r *Registry) Register(connID, userID string) {
	s := r.shardFor(connID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[connID]; ok && prev.WorkspaceID != "" {
		r.decPair(prev.UserID, prev.WorkspaceID)
	}
	s.entries[connID] = &Entry{
		ConnectionID: connID,
		UserID:       userID,
		LastLiveness: time.Now(),
	}
}

// BindWorkspace binds a connection to a workspace. Rebinding is allowed and
// overwrites the prior binding; binding to the current workspace is a no-op.
// Returns false if the connection is unknown.
func (r *Registry) BindWorkspace(connID, workspaceID string) bool {
	s := r.shardFor(connID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connID]
	if !ok {
		return false
	}
	if e.WorkspaceID == workspaceID {
		e.LastLiveness = time.Now()
		return true
	}
	if e.WorkspaceID != "" {
		r.decPair(e.UserID, e.WorkspaceID)
	}
	e.WorkspaceID = workspaceID
	e.LastLiveness = time.Now()
	if workspaceID != "" {
		r.incPair(e.UserID, workspaceID)
	}
	return true
}

// UnbindWorkspace clears a connection's workspace binding.
// Returns false if the connection is unknown.
func (r *Registry) UnbindWorkspace(connID string) bool {
	return r.BindWorkspace(connID, "")
}

// Touch refreshes a connection's liveness timestamp.
// Returns false if the connection is unknown.
func (r *Registry) Touch(connID string) bool {
	s := r.shardFor(connID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connID]
	if !ok {
		return false
	}
	e.LastLiveness = time.Now()
	return true
}

// Get returns a copy of the entry for a connection.
func (r *Registry) Get(connID string) (Entry, bool) {
	s := r.shardFor(connID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Unregister atomically removes and returns the entry for a connection.
// The pair index is updated before Unregister returns, so a following
// ConnectionsFor call observes the removal.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	s := r.shardFor(connID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[connID]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, connID)
	if e.WorkspaceID != "" {
		r.decPair(e.UserID, e.WorkspaceID)
	}
	return *e, true
}

// ConnectionsFor returns the number of live connections bound to the given
// user/workspace pair.
func (r *Registry) ConnectionsFor(userID, workspaceID string) int {
	r.pairMu.RLock()
	defer r.pairMu.RUnlock()
	return r.pairs[pairKey{userID, workspaceID}]
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// StaleBefore returns copies of all entries whose liveness is older than
// cutoff. Shards are scanned one at a time; no lock is held across the
// whole snapshot.
func (r *Registry) StaleBefore(cutoff time.Time) []Entry {
	var stale []Entry
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.LastLiveness.Before(cutoff) {
				stale = append(stale, *e)
			}
		}
		s.mu.RUnlock()
	}
	return stale
}

func (r *Registry) incPair(userID, workspaceID string) {
	r.pairMu.Lock()
	r.pairs[pairKey{userID, workspaceID}]++
	r.pairMu.Unlock()
}

func (r *Registry) decPair(userID, workspaceID string) {
	r.pairMu.Lock()
	k := pairKey{userID, workspaceID}
	if n := r.pairs[k]; n <= 1 {
		delete(r.pairs, k)
	} else {
		r.pairs[k] = n - 1
	}
	r.pairMu.Unlock()
}
