// Package metrics tallies admission outcomes per scope for observability.
// Counters reset only on an explicit operator call, never implicitly.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counts holds the verdict tallies for one scope.
type Counts struct {
	Total      int64 `json:"total"`
	Allowed    int64 `json:"allowed"`
	Monitored  int64 `json:"monitored"`
	Challenged int64 `json:"challenged"`
	Throttled  int64 `json:"throttled"`
	Blocked    int64 `json:"blocked"`
}

// Aggregator keeps per-scope counters plus Prometheus collectors. The
// snapshot API serves the in-process dashboard path; the collectors serve
// the scrape path.
type Aggregator struct {
	mu     sync.Mutex
	scopes map[string]*Counts

	decisions     *prometheus.CounterVec
	decideSeconds prometheus.Histogram
}

// NewAggregator constructs an Aggregator and registers its collectors.
// A nil registerer skips Prometheus registration, which keeps tests isolated.
func NewAggregator(reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		scopes: make(map[string]*Counts),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_decisions_total",
				Help: "Total admission decisions by scope and verdict",
			},
			[]string{"scope", "verdict"},
		),
		decideSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_admission_decide_seconds",
				Help:    "Latency of admission decisions",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(a.decisions, a.decideSeconds)
	}
	return a
}

// Record tallies one verdict for a scope.
func (a *Aggregator) Record(scope, verdict string) {
	if a == nil {
		return
	}
	if scope == "" {
		scope = "unscoped"
	}

	a.mu.Lock()
	counts := a.scopes[scope]
	if counts == nil {
		counts = &Counts{}
		a.scopes[scope] = counts
	}
	counts.Total++
	switch verdict {
	case "ALLOW":
		counts.Allowed++
	case "MONITOR":
		counts.Monitored++
	case "CHALLENGE":
		counts.Challenged++
	case "THROTTLE":
		counts.Throttled++
	case "BLOCK":
		counts.Blocked++
	}
	a.mu.Unlock()

	a.decisions.WithLabelValues(scope, verdict).Inc()
}

// ObserveDecide records the latency of one decision.
func (a *Aggregator) ObserveDecide(d time.Duration) {
	if a == nil {
		return
	}
	a.decideSeconds.Observe(d.Seconds())
}

// Snapshot returns a copy of the counters for one scope.
func (a *Aggregator) Snapshot(scope string) Counts {
	if a == nil {
		return Counts{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if counts := a.scopes[scope]; counts != nil {
		return *counts
	}
	return Counts{}
}

// SnapshotAll returns a copy of all per-scope counters.
func (a *Aggregator) SnapshotAll() map[string]Counts {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Counts, len(a.scopes))
	for scope, counts := range a.scopes {
		out[scope] = *counts
	}
	return out
}

// Reset clears all snapshot counters. Prometheus counters are cumulative by
// contract and are left alone.
func (a *Aggregator) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.scopes = make(map[string]*Counts)
	a.mu.Unlock()
}
