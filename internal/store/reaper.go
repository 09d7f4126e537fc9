package store

import (
	"context"
	"log"
	"time"

	"ember-chat/internal/models"
	"ember-chat/internal/observability"
)

// Reaper sweeps the store on a fixed tick, removes expired messages and hands
// each removal to the expiry callback. Additional prune hooks (expired mutes,
// idle rate counters) run once per tick.
type Reaper struct {
	store     *Store
	interval  time.Duration
	onExpired func(msg models.Message)
	prune     []func(now time.Time)
}

// NewReaper builds a Reaper. onExpired must not block for long; it is called
// once per expired message.
func NewReaper(store *Store, interval time.Duration, onExpired func(msg models.Message)) *Reaper {
	return &Reaper{store: store, interval: interval, onExpired: onExpired}
}

// AddPruneHook registers a function invoked once per tick, after the message
// sweep. Must be called before Run.
func (r *Reaper) AddPruneHook(hook func(now time.Time)) {
	r.prune = append(r.prune, hook)
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Reaper) tick(now time.Time) {
	for _, channel := range r.store.Channels() {
		r.sweepChannel(channel, now)
	}
	for _, hook := range r.prune {
		hook(now)
	}
}

// sweepChannel isolates failures so one bad channel cannot abort the sweep of
// the others.
func (r *Reaper) sweepChannel(channel string, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("reaper: sweep of channel %s panicked: %v", channel, rec)
		}
	}()

	expired := r.store.SweepExpired(channel, now)
	for _, msg := range expired {
		observability.IncReaperExpired(channel)
		if r.onExpired != nil {
			r.onExpired(msg)
		}
	}
}
