package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register("conn-1", "user-1")

	e, ok := r.Get("conn-1")
	if !ok {
		t.Fatal("entry should exist")
	}
	if e.UserID != "user-1" {
		t.Errorf("user mismatch: got %s", e.UserID)
	}
	if e.WorkspaceID != "" {
		t.Errorf("workspace should be unbound, got %s", e.WorkspaceID)
	}
	if e.LastLiveness.IsZero() {
		t.Error("liveness should be stamped on register")
	}
}

func TestBindWorkspace(t *testing.T) {
	r := New()
	r.Register("conn-1", "user-1")

	if !r.BindWorkspace("conn-1", "ws-1") {
		t.Fatal("bind should succeed")
	}
	if got := r.ConnectionsFor("user-1", "ws-1"); got != 1 {
		t.Errorf("expected 1 connection for pair, got %d", got)
	}

	// Rebinding overwrites the prior binding
	if !r.BindWorkspace("conn-1", "ws-2") {
		t.Fatal("rebind should succeed")
	}
	if got := r.ConnectionsFor("user-1", "ws-1"); got != 0 {
		t.Errorf("old pair should be released, got %d", got)
	}
	if got := r.ConnectionsFor("user-1", "ws-2"); got != 1 {
		t.Errorf("expected 1 connection for new pair, got %d", got)
	}

	// Binding to the same workspace is idempotent
	if !r.BindWorkspace("conn-1", "ws-2") {
		t.Fatal("idempotent bind should succeed")
	}
	if got := r.ConnectionsFor("user-1", "ws-2"); got != 1 {
		t.Errorf("idempotent bind should not change count, got %d", got)
	}
}

func TestBindUnknownConnection(t *testing.T) {
	r := New()
	if r.BindWorkspace("nope", "ws-1") {
		t.Error("bind on unknown connection should report not found")
	}
	if r.Touch("nope") {
		t.Error("touch on unknown connection should report not found")
	}
	if _, ok := r.Unregister("nope"); ok {
		t.Error("unregister on unknown connection should report not found")
	}
}

func TestUnregisterReturnsEntry(t *testing.T) {
	r := New()
	r.Register("conn-1", "user-1")
	r.BindWorkspace("conn-1", "ws-1")

	e, ok := r.Unregister("conn-1")
	if !ok {
		t.Fatal("unregister should find the entry")
	}
	if e.UserID != "user-1" || e.WorkspaceID != "ws-1" {
		t.Errorf("unexpected entry: %+v", e)
	}

	// Read-after-write: the pair count must reflect the removal
	if got := r.ConnectionsFor("user-1", "ws-1"); got != 0 {
		t.Errorf("expected 0 connections after unregister, got %d", got)
	}
	if _, ok := r.Get("conn-1"); ok {
		t.Error("entry should be gone")
	}
}

func TestTwoConnectionsSamePair(t *testing.T) {
	r := New()
	r.Register("conn-1", "user-1")
	r.Register("conn-2", "user-1")
	r.BindWorkspace("conn-1", "ws-1")
	r.BindWorkspace("conn-2", "ws-1")

	if got := r.ConnectionsFor("user-1", "ws-1"); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	r.Unregister("conn-1")
	if got := r.ConnectionsFor("user-1", "ws-1"); got != 1 {
		t.Errorf("expected 1 connection after first unregister, got %d", got)
	}

	r.Unregister("conn-2")
	if got := r.ConnectionsFor("user-1", "ws-1"); got != 0 {
		t.Errorf("expected 0 connections after second unregister, got %d", got)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("conn-%d-%d", w, i)
				r.Register(id, "user-1")
				r.BindWorkspace(id, "ws-1")
				if i%2 == 0 {
					r.Unregister(id)
				}
			}
		}(w)
	}
	wg.Wait()

	// Half of each worker's connections remain
	want := workers * perWorker / 2
	if got := r.ConnectionsFor("user-1", "ws-1"); got != want {
		t.Errorf("expected %d live connections, got %d", want, got)
	}
	if got := r.Len(); got != want {
		t.Errorf("expected registry length %d, got %d", want, got)
	}
}

func TestStaleBefore(t *testing.T) {
	r := New()
	r.Register("old", "user-1")
	r.BindWorkspace("old", "ws-1")

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	r.Register("fresh", "user-2")

	stale := r.StaleBefore(cutoff)
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale entry, got %d", len(stale))
	}
	if stale[0].ConnectionID != "old" {
		t.Errorf("expected 'old' to be stale, got %s", stale[0].ConnectionID)
	}

	// Touch refreshes liveness past the cutoff
	r.Touch("old")
	if got := r.StaleBefore(cutoff); len(got) != 0 {
		t.Errorf("expected no stale entries after touch, got %d", len(got))
	}
}
