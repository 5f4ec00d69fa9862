// Package reaper periodically evicts connections whose liveness signal has
// gone silent.
//
// Eviction runs through the same teardown path as an explicit disconnect, so
// clean and stale closes cannot diverge. The sweep snapshots candidates
// first and never holds a registry lock while processing them.
package reaper

import (
	"context"
	"time"

	"github.com/openteams/pulse/internal/log"
	"github.com/openteams/pulse/internal/registry"
)

// Source yields connections whose liveness predates a cutoff.
// Satisfied by *registry.Registry.
type Source interface {
	StaleBefore(cutoff time.Time) []registry.Entry
}

// Evictor tears down one stale connection: LeaveAll, Unregister and the
// guarded presence demotion, identical to the explicit-close path.
type Evictor interface {
	EvictStale(entry registry.Entry) error
}

// Config holds reaper timing. Both values are operator configuration, not
// policy baked into the sweep.
type Config struct {
	Interval  time.Duration // time between sweeps
	Threshold time.Duration // liveness age that marks a connection stale
}

// DefaultConfig returns the default reaper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		Threshold: 5 * time.Minute,
	}
}

// Reaper sweeps the registry for stale connections.
type Reaper struct {
	cfg    Config
	source Source
	evict  Evictor

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reaper. Call Start to begin sweeping.
func New(cfg Config, source Source, evict Evictor) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	return &Reaper{cfg: cfg, source: source, evict: evict}
}

// Start launches the periodic sweep until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Sweep evicts every connection whose liveness is older than the threshold.
// A failure on one candidate logs and continues; the sweep never aborts.
// Returns the number of evicted connections.
func (r *Reaper) Sweep() int {
	cutoff := time.Now().Add(-r.cfg.Threshold)
	stale := r.source.StaleBefore(cutoff)
	if len(stale) == 0 {
		return 0
	}

	log.Debug("reaper: sweep found stale connections", "count", len(stale))

	evicted := 0
	for _, entry := range stale {
		if err := r.evict.EvictStale(entry); err != nil {
			log.Warn("reaper: eviction failed, continuing",
				"conn_id", entry.ConnectionID, "error", err.Error())
			continue
		}
		evicted++
		log.Info("reaper: evicted stale connection",
			"conn_id", entry.ConnectionID,
			"user_id", entry.UserID,
			"workspace_id", entry.WorkspaceID,
			"idle", time.Since(entry.LastLiveness).Round(time.Second).String())
	}
	return evicted
}
