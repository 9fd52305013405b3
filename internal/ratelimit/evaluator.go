package ratelimit

import (
	"time"
)

// idleMultiplier sets how many windows an entry may sit untouched before the
// sweep reclaims it.
const idleMultiplier = 3

// Evaluator evaluates individual rules against per-key state.
type Evaluator struct {
	store *StateStore
	nowFn func() time.Time
}

// NewEvaluator constructs an Evaluator with default dependencies when nil.
func NewEvaluator(store *StateStore, nowFn func() time.Time) *Evaluator {
	if store == nil {
		store = NewStateStore()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Evaluator{store: store, nowFn: nowFn}
}

// Store exposes the backing state store for sweeps and resets.
func (ev *Evaluator) Store() *StateStore {
	if ev == nil {
		return nil
	}
	return ev.store
}

// Evaluate runs one rule for one identifier at the evaluator's clock.
// The limit argument is the effective limit, which may be tighter than the
// rule's configured limit under adaptive throttling.
func (ev *Evaluator) Evaluate(rule *Rule, identifier string, limit int, now time.Time) Result {
	if ev == nil || rule == nil {
		return Result{Allowed: true}
	}
	if now.IsZero() {
		now = ev.nowFn()
	}
	key := BuildKey(rule.Scope, rule.RuleID, identifier)
	if key == "" {
		return Result{Allowed: true}
	}
	if limit <= 0 {
		// A zero limit always denies; there is no window to wait out.
		return Result{Allowed: false, Remaining: 0, Reset: now.Add(rule.Window), RetryAfter: rule.Window}
	}

	e := ev.store.acquire(key, time.Duration(idleMultiplier)*rule.Window, now)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch rule.Algorithm {
	case AlgorithmSlidingWindow:
		return slideLocked(e, limit, rule.Window, now)
	case AlgorithmFixedWindow:
		return fixedLocked(e, limit, rule.Window, now)
	default:
		return bucketLocked(e, limit, rule.Window, now)
	}
}

// bucketLocked implements a token bucket with a discrete full refill at each
// window boundary. Caller must hold the entry lock.
func bucketLocked(e *entry, limit int, window time.Duration, now time.Time) Result {
	if e.nextRefillAt.IsZero() {
		e.tokens = limit
		e.nextRefillAt = now.Add(window)
	} else if !now.Before(e.nextRefillAt) {
		e.tokens = limit
		elapsed := now.Sub(e.nextRefillAt)
		e.nextRefillAt = e.nextRefillAt.Add((elapsed/window + 1) * window)
	}
	if e.tokens > limit {
		e.tokens = limit
	}
	if e.tokens <= 0 {
		return Result{Allowed: false, Remaining: 0, Reset: e.nextRefillAt, RetryAfter: e.nextRefillAt.Sub(now)}
	}
	e.tokens--
	return Result{Allowed: true, Remaining: e.tokens, Reset: e.nextRefillAt}
}

// slideLocked implements a sliding window over a per-key timestamp queue.
// Caller must hold the entry lock.
func slideLocked(e *entry, limit int, window time.Duration, now time.Time) Result {
	cutoff := now.Add(-window)
	keep := 0
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			e.stamps[keep] = ts
			keep++
		}
	}
	e.stamps = e.stamps[:keep]

	if len(e.stamps) >= limit {
		reset := e.stamps[0].Add(window)
		return Result{Allowed: false, Remaining: 0, Reset: reset, RetryAfter: reset.Sub(now)}
	}
	e.stamps = append(e.stamps, now)
	return Result{
		Allowed:   true,
		Remaining: limit - len(e.stamps),
		Reset:     e.stamps[0].Add(window),
	}
}

// fixedLocked implements clock-aligned fixed window counting. Caller must
// hold the entry lock.
func fixedLocked(e *entry, limit int, window time.Duration, now time.Time) Result {
	windowID := now.UnixNano() / int64(window)
	if e.windowID != windowID {
		e.windowID = windowID
		e.count = 0
	}
	reset := time.Unix(0, (windowID+1)*int64(window))
	if e.count >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset, RetryAfter: reset.Sub(now)}
	}
	e.count++
	return Result{Allowed: true, Remaining: limit - e.count, Reset: reset}
}
