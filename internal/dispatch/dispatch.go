// Package dispatch fans events out to every live connection subscribed to
// the event's channel.
//
// Delivery is best-effort: a push that fails or times out is recorded in the
// DeliveryReport and, past a consecutive-failure threshold, the connection is
// evicted through the same path as a disconnect. Failures never propagate to
// the publisher.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/router"
)

// EventType enumerates the pushes a client can receive.
type EventType string

const (
	UserJoined           EventType = "UserJoined"
	UserLeft             EventType = "UserLeft"
	Typing               EventType = "Typing"
	EntityUpdated        EventType = "EntityUpdated"
	NotificationReceived EventType = "NotificationReceived"
)

// Event is a transient message bound for one channel. The payload is opaque
// to the dispatcher.
type Event struct {
	Channel router.ChannelKey
	Type    EventType
	Payload map[string]any

	// OriginConnectionID, when set together with ExcludeOrigin, keeps the
	// sender from receiving its own echo (typing indicators).
	OriginConnectionID string
	ExcludeOrigin      bool
}

// Sender is one push target, implemented by the transport connection.
type Sender interface {
	ID() string
	Push(ctx context.Context, ev Event) error
}

// Memberships resolves a channel to its current subscriber set.
// Satisfied by *router.Router.
type Memberships interface {
	MembersOf(key router.ChannelKey) []string
}

// Evictor removes a connection that can no longer be reached. The dispatcher
// calls it asynchronously so fan-out never waits on cleanup.
type Evictor func(connID string)

// DeliveryFailure records one failed push.
type DeliveryFailure struct {
	ConnectionID string `json:"connection_id"`
	Error        string `json:"error"`
}

// DeliveryReport summarizes one publish.
type DeliveryReport struct {
	Channel   router.ChannelKey `json:"channel"`
	Attempts  int               `json:"attempts"`
	Delivered int               `json:"delivered"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
	Evicted   []string          `json:"evicted,omitempty"`
}

// Config holds dispatcher tuning.
type Config struct {
	PushTimeout      time.Duration // bound on a single connection push
	FailureThreshold int           // consecutive failures before eviction
	QueueSize        int           // pending publish queue
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		PushTimeout:      5 * time.Second,
		FailureThreshold: 3,
		QueueSize:        1024,
	}
}

type job struct {
	ev    Event
	reply chan DeliveryReport // nil for fire-and-forget
}

// Dispatcher delivers events to channel members.
type Dispatcher struct {
	cfg     Config
	members Memberships
	evict   Evictor

	mu       sync.RWMutex
	senders  map[string]Sender
	failures map[string]int

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a dispatcher and starts its delivery worker. The single worker
// preserves publish order per channel for a given connection.
func New(cfg Config, members Memberships, evict Evictor) *Dispatcher {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultConfig().PushTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	d := &Dispatcher{
		cfg:      cfg,
		members:  members,
		evict:    evict,
		senders:  make(map[string]Sender),
		failures: make(map[string]int),
		jobs:     make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Attach registers a connection as a push target.
func (d *Dispatcher) Attach(s Sender) {
	d.mu.Lock()
	d.senders[s.ID()] = s
	delete(d.failures, s.ID())
	d.mu.Unlock()
}

// Detach removes a connection. Detaching an unknown ID is a no-op.
func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	delete(d.senders, connID)
	delete(d.failures, connID)
	d.mu.Unlock()
}

// Publish queues an event for delivery and returns immediately.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.jobs <- job{ev: ev}:
	case <-d.done:
	}
}

// PublishSync queues an event and waits for its delivery report.
func (d *Dispatcher) PublishSync(ev Event) DeliveryReport {
	reply := make(chan DeliveryReport, 1)
	select {
	case d.jobs <- job{ev: ev, reply: reply}:
	case <-d.done:
		return DeliveryReport{Channel: ev.Channel}
	}
	select {
	case report := <-reply:
		return report
	case <-d.done:
		return DeliveryReport{Channel: ev.Channel}
	}
}

// Close stops the delivery worker after draining queued events.
func (d *Dispatcher) Close() {
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			report := d.deliver(j.ev)
			if j.reply != nil {
				j.reply <- report
			}
		case <-d.done:
			// Drain what was already queued
			for {
				select {
				case j := <-d.jobs:
					report := d.deliver(j.ev)
					if j.reply != nil {
						j.reply <- report
					}
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) DeliveryReport {
	report := DeliveryReport{Channel: ev.Channel}

	for _, connID := range d.members.MembersOf(ev.Channel) {
		if ev.ExcludeOrigin && connID == ev.OriginConnectionID {
			continue
		}

		d.mu.RLock()
		sender, ok := d.senders[connID]
		d.mu.RUnlock()
		if !ok {
			// Subscribed but no live transport: already gone, heal the router
			// through the normal eviction path.
			report.Evicted = append(report.Evicted, connID)
			go d.evict(connID)
			continue
		}

		report.Attempts++
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PushTimeout)
		err := sender.Push(ctx, ev)
		cancel()

		if err == nil {
			report.Delivered++
			d.mu.Lock()
			delete(d.failures, connID)
			d.mu.Unlock()
			continue
		}

		report.Failures = append(report.Failures, DeliveryFailure{
			ConnectionID: connID,
			Error:        err.Error(),
		})

		d.mu.Lock()
		d.failures[connID]++
		evictNow := d.failures[connID] >= d.cfg.FailureThreshold
		if evictNow {
			delete(d.failures, connID)
		}
		d.mu.Unlock()

		if evictNow {
			log.Warn("dispatch: evicting unresponsive connection",
				"conn_id", connID, "channel", ev.Channel.String())
			report.Evicted = append(report.Evicted, connID)
			go d.evict(connID)
		}
	}

	return report
}
