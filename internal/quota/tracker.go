// Package quota tracks longer-horizon usage ceilings independent of the
// short-term rate limit rules.
package quota

import (
	"sync"
	"time"

	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

// Usage reports the state of one quota after recording a request.
type Usage struct {
	QuotaID  string
	Count    int
	Limit    int
	Exceeded bool
	Blocking bool
	ResetAt  time.Time
}

type usageEntry struct {
	periodStart time.Time
	period      time.Duration
	count       int
	touched     time.Time
}

// Tracker accumulates per-(identifier, quota) counters over hour or day
// scale periods. Entries expire lazily on read; Sweep reclaims idle ones.
type Tracker struct {
	mu    sync.Mutex
	usage map[string]*usageEntry
	nowFn func() time.Time
}

// NewTracker constructs a Tracker with default dependencies when nil.
func NewTracker(nowFn func() time.Time) *Tracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{
		usage: make(map[string]*usageEntry),
		nowFn: nowFn,
	}
}

// Consume records one request against the quota and reports the resulting
// usage. The caller decides what an exceeded advisory quota means.
func (t *Tracker) Consume(identifier string, cfg ratelimit.QuotaConfig, now time.Time) Usage {
	if t == nil || identifier == "" || cfg.Period <= 0 {
		return Usage{QuotaID: cfg.QuotaID, Limit: cfg.Limit}
	}
	if now.IsZero() {
		now = t.nowFn()
	}
	periodStart := now.Truncate(cfg.Period)
	key := cfg.QuotaID + "|" + identifier

	t.mu.Lock()
	entry := t.usage[key]
	if entry == nil {
		entry = &usageEntry{periodStart: periodStart, period: cfg.Period}
		t.usage[key] = entry
	}
	entry.period = cfg.Period
	if !entry.periodStart.Equal(periodStart) {
		entry.periodStart = periodStart
		entry.count = 0
	}
	entry.count++
	entry.touched = now
	count := entry.count
	t.mu.Unlock()

	return Usage{
		QuotaID:  cfg.QuotaID,
		Count:    count,
		Limit:    cfg.Limit,
		Exceeded: count > cfg.Limit,
		Blocking: cfg.Blocking,
		ResetAt:  periodStart.Add(cfg.Period),
	}
}

// AppliesToTier reports whether the quota covers the given tier.
func AppliesToTier(cfg ratelimit.QuotaConfig, tier string) bool {
	if len(cfg.Tiers) == 0 {
		return true
	}
	for _, t := range cfg.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Reset clears all quota usage for an identifier.
func (t *Tracker) Reset(identifier string) int {
	if t == nil || identifier == "" {
		return 0
	}
	suffix := "|" + identifier
	removed := 0
	t.mu.Lock()
	for key := range t.usage {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(t.usage, key)
			removed++
		}
	}
	t.mu.Unlock()
	return removed
}

// Sweep removes entries untouched for two full periods.
func (t *Tracker) Sweep(now time.Time) int {
	if t == nil {
		return 0
	}
	removed := 0
	t.mu.Lock()
	for key, entry := range t.usage {
		if now.Sub(entry.touched) > 2*entry.period {
			delete(t.usage, key)
			removed++
		}
	}
	t.mu.Unlock()
	return removed
}
