package router

import (
	"sync"
	"testing"
)

func TestJoinAndMembersOf(t *testing.T) {
	r := New()
	key := WorkspaceChannel("ws-1")

	r.Join("conn-1", key)
	r.Join("conn-2", key)

	members := r.MembersOf(key)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestJoinIdempotent(t *testing.T) {
	r := New()
	key := WorkspaceChannel("ws-1")

	r.Join("conn-1", key)
	r.Join("conn-1", key)

	if got := len(r.MembersOf(key)); got != 1 {
		t.Errorf("double join should not duplicate membership, got %d", got)
	}
}

func TestLeave(t *testing.T) {
	r := New()
	key := TypingChannel("task-9")

	r.Join("conn-1", key)
	r.Leave("conn-1", key)

	if got := len(r.MembersOf(key)); got != 0 {
		t.Errorf("expected empty channel after leave, got %d", got)
	}

	// Leaving again is a no-op
	r.Leave("conn-1", key)
}

func TestLeaveAllIdempotent(t *testing.T) {
	r := New()
	r.Join("conn-1", WorkspaceChannel("ws-1"))
	r.Join("conn-1", TypingChannel("task-1"))
	r.Join("conn-1", NotificationChannel("user-1"))
	r.Join("conn-2", WorkspaceChannel("ws-1"))

	r.LeaveAll("conn-1")

	if got := len(r.ChannelsOf("conn-1")); got != 0 {
		t.Errorf("expected no channels for conn-1, got %d", got)
	}
	if got := len(r.MembersOf(WorkspaceChannel("ws-1"))); got != 1 {
		t.Errorf("conn-2 should still be a member, got %d", got)
	}

	// Second call observes empty membership and changes nothing
	r.LeaveAll("conn-1")

	if got := len(r.MembersOf(WorkspaceChannel("ws-1"))); got != 1 {
		t.Errorf("second LeaveAll must not disturb other members, got %d", got)
	}
}

func TestEmptyChannelsAreDropped(t *testing.T) {
	r := New()
	key := WorkspaceChannel("ws-1")

	r.Join("conn-1", key)
	r.LeaveAll("conn-1")

	stats := r.Stats()
	if stats.Channels != 0 {
		t.Errorf("empty channels should be removed, got %d", stats.Channels)
	}
}

func TestChannelKeys(t *testing.T) {
	if got := WorkspaceChannel("w1").String(); got != "workspace:w1" {
		t.Errorf("unexpected workspace key: %s", got)
	}
	if got := TypingChannel("e1").String(); got != "entity-typing:e1" {
		t.Errorf("unexpected typing key: %s", got)
	}
	if got := NotificationChannel("u1").String(); got != "user-notifications:u1" {
		t.Errorf("unexpected notification key: %s", got)
	}
}

func TestConcurrentJoinLeaveAll(t *testing.T) {
	r := New()
	key := WorkspaceChannel("ws-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Join("conn-x", key)
		}()
		go func() {
			defer wg.Done()
			r.LeaveAll("conn-x")
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the indexes must agree.
	members := r.MembersOf(key)
	channels := r.ChannelsOf("conn-x")
	if len(members) != len(channels) {
		t.Errorf("indexes diverged: %d members vs %d channels", len(members), len(channels))
	}
}

func TestStats(t *testing.T) {
	r := New()
	r.Join("conn-1", WorkspaceChannel("ws-1"))
	r.Join("conn-2", WorkspaceChannel("ws-1"))
	r.Join("conn-1", NotificationChannel("user-1"))

	stats := r.Stats()
	if stats.Channels != 2 {
		t.Errorf("expected 2 channels, got %d", stats.Channels)
	}
	if stats.Subscriptions != 3 {
		t.Errorf("expected 3 subscriptions, got %d", stats.Subscriptions)
	}
	if stats.Members["workspace:ws-1"] != 2 {
		t.Errorf("expected 2 members in workspace channel, got %d", stats.Members["workspace:ws-1"])
	}
}
