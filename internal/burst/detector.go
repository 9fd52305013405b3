// Package burst implements a short-window guard for sudden traffic spikes,
// layered on top of the steady-state rate limit rules.
package burst

import (
	"sync"
	"time"

	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

// Outcome reports the burst check for one identifier.
type Outcome struct {
	Denied     bool
	Flagged    bool
	Count      int
	RetryAfter time.Duration
}

type burstState struct {
	lastAt    time.Time
	count     int
	coolUntil time.Time
	touched   time.Time
}

// Detector tracks inter-arrival gaps per identifier. Requests landing closer
// together than the burst window grow a counter that decays once a full
// cooldown passes without further bursts.
type Detector struct {
	mu     sync.Mutex
	states map[string]*burstState
	nowFn  func() time.Time
}

// NewDetector constructs a Detector with default dependencies when nil.
func NewDetector(nowFn func() time.Time) *Detector {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Detector{
		states: make(map[string]*burstState),
		nowFn:  nowFn,
	}
}

// Check records one arrival for the identifier and reports whether the
// configured burst limit is exceeded.
func (d *Detector) Check(identifier string, cfg *ratelimit.BurstConfig, now time.Time) Outcome {
	if d == nil || cfg == nil || !cfg.Enabled || identifier == "" {
		return Outcome{}
	}
	if now.IsZero() {
		now = d.nowFn()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.states[identifier]
	if state == nil {
		state = &burstState{}
		d.states[identifier] = state
	}
	state.touched = now

	if !state.coolUntil.IsZero() && now.Before(state.coolUntil) {
		state.lastAt = now
		return Outcome{Denied: true, Count: state.count, RetryAfter: state.coolUntil.Sub(now)}
	}

	switch {
	case state.lastAt.IsZero():
		state.count = 0
	case now.Sub(state.lastAt) < cfg.Window:
		state.count++
	case now.Sub(state.lastAt) >= cfg.Cooldown:
		// A quiet cooldown fully decays the counter.
		state.count = 0
	}
	state.lastAt = now

	if state.count > cfg.Limit {
		state.coolUntil = now.Add(cfg.Cooldown)
		return Outcome{Denied: true, Count: state.count, RetryAfter: cfg.Cooldown}
	}
	flagged := cfg.Threshold > 0 && state.count >= cfg.Threshold
	return Outcome{Flagged: flagged, Count: state.count}
}

// Reset clears burst state for an identifier.
func (d *Detector) Reset(identifier string) bool {
	if d == nil || identifier == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[identifier]; !ok {
		return false
	}
	delete(d.states, identifier)
	return true
}

// Sweep removes identifiers untouched for the given idle duration.
func (d *Detector) Sweep(now time.Time, idle time.Duration) int {
	if d == nil || idle <= 0 {
		return 0
	}
	removed := 0
	d.mu.Lock()
	for key, state := range d.states {
		if now.Sub(state.touched) > idle {
			delete(d.states, key)
			removed++
		}
	}
	d.mu.Unlock()
	return removed
}
