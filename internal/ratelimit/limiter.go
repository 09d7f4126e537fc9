// Package ratelimit enforces per-sender send limits: a per-channel slow-mode
// interval checked first, then a sliding-window counter whose repeated
// violations escalate to a capped exponential block.
package ratelimit

import (
	"sync"
	"time"
)

// Code classifies the outcome of an Allow call.
type Code int

const (
	Allowed Code = iota
	SlowMode
	Limited
	Blocked
)

// Verdict is the decision for one send attempt. RetryAfter is how long the
// sender must wait before the next slot opens.
type Verdict struct {
	Code       Code
	RetryAfter time.Duration
}

// Options tune the limiter.
type Options struct {
	Window        time.Duration // sliding window length
	Threshold     int           // accepted sends per window
	EscalateAfter int           // violations before a block is issued
	BlockBase     time.Duration // first block duration
	BlockCap      time.Duration // upper bound for escalated blocks
	Retention     time.Duration // idle counter lifetime
}

// Limiter tracks one counter per (identity, channel) pair. Each counter has
// its own mutex so concurrent sends from one identity are serialized without
// contending with other senders.
type Limiter struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
	opts     Options
}

type counterKey struct {
	identity string
	channel  string
}

type counter struct {
	mu           sync.Mutex
	sends        []time.Time
	lastAccepted time.Time
	violations   int
	blockedUntil time.Time
	lastSeen     time.Time
}

// New creates a Limiter.
func New(opts Options) *Limiter {
	if opts.EscalateAfter <= 0 {
		opts.EscalateAfter = 3
	}
	return &Limiter{
		counters: make(map[counterKey]*counter),
		opts:     opts,
	}
}

func (l *Limiter) counter(identity, channel string) *counter {
	key := counterKey{identity: identity, channel: channel}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok {
		c = &counter{}
		l.counters[key] = c
	}
	return c
}

// Allow decides whether a send from identity into channel may proceed.
// slowMode is the channel's minimum inter-message interval (0 disables it)
// and is evaluated before the sliding window so rejections are unambiguous
// about which rule fired.
func (l *Limiter) Allow(identity, channel string, slowMode time.Duration, now time.Time) Verdict {
	c := l.counter(identity, channel)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen = now

	if now.Before(c.blockedUntil) {
		return Verdict{Code: Blocked, RetryAfter: c.blockedUntil.Sub(now)}
	}

	if slowMode > 0 && !c.lastAccepted.IsZero() {
		if since := now.Sub(c.lastAccepted); since < slowMode {
			return Verdict{Code: SlowMode, RetryAfter: slowMode - since}
		}
	}

	cutoff := now.Add(-l.opts.Window)
	kept := c.sends[:0]
	for _, t := range c.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.sends = kept

	if len(c.sends) >= l.opts.Threshold {
		c.violations++
		if c.violations >= l.opts.EscalateAfter {
			c.blockedUntil = now.Add(l.blockDuration(c.violations))
			return Verdict{Code: Blocked, RetryAfter: c.blockedUntil.Sub(now)}
		}
		retry := c.sends[0].Add(l.opts.Window).Sub(now)
		return Verdict{Code: Limited, RetryAfter: retry}
	}

	c.sends = append(c.sends, now)
	c.lastAccepted = now
	c.violations = 0
	return Verdict{Code: Allowed}
}

func (l *Limiter) blockDuration(violations int) time.Duration {
	d := l.opts.BlockBase
	for i := l.opts.EscalateAfter; i < violations; i++ {
		d *= 2
		if d >= l.opts.BlockCap {
			return l.opts.BlockCap
		}
	}
	if d > l.opts.BlockCap {
		d = l.opts.BlockCap
	}
	return d
}

// Sweep drops counters idle beyond the retention window. Precision is not
// required; the reaper calls this once per tick.
func (l *Limiter) Sweep(now time.Time) {
	if l.opts.Retention <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		c.mu.Lock()
		idle := now.Sub(c.lastSeen) > l.opts.Retention && now.After(c.blockedUntil)
		c.mu.Unlock()
		if idle {
			delete(l.counters, key)
		}
	}
}

// Len reports the number of tracked counters.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
