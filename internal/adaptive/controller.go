// Package adaptive tightens effective rate limits under system-wide load.
// The controller is purely advisory: it scales configured limits downward and
// never raises them above their configured values.
package adaptive

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied when a controller is built from a zeroed config.
const (
	defaultFloor       = 0.1
	defaultSensitivity = 1.0
)

// Controller derives a scaling factor from aggregate error, latency and
// velocity signals. Hot-path readers load the factor atomically; Recompute
// runs on a fixed schedule owned by the caller.
type Controller struct {
	enabled     bool
	ceiling     float64
	sensitivity float64

	factorBits atomic.Uint64

	mu            sync.Mutex
	requests      int64
	errors        int64
	totalLatency  time.Duration
	lastRequests  int64
	lastRecompute time.Time
}

// NewController constructs a Controller. ceiling caps the factor in (0,1];
// sensitivity scales how hard load signals push the factor down.
func NewController(enabled bool, ceiling, sensitivity float64) *Controller {
	if ceiling <= 0 || ceiling > 1 {
		ceiling = 1
	}
	if sensitivity <= 0 {
		sensitivity = defaultSensitivity
	}
	c := &Controller{
		enabled:     enabled,
		ceiling:     ceiling,
		sensitivity: sensitivity,
	}
	c.factorBits.Store(math.Float64bits(ceiling))
	return c
}

// Enabled reports whether adaptive throttling is active.
func (c *Controller) Enabled() bool {
	return c != nil && c.enabled
}

// Factor returns the current scaling factor in (0, 1].
func (c *Controller) Factor() float64 {
	if c == nil || !c.enabled {
		return 1
	}
	return math.Float64frombits(c.factorBits.Load())
}

// Scale applies the current factor to a base limit. The result never exceeds
// the base limit and never drops below one for positive limits.
func (c *Controller) Scale(limit int) int {
	if c == nil || !c.enabled || limit <= 0 {
		return limit
	}
	scaled := int(math.Floor(float64(limit) * c.Factor()))
	if scaled < 1 {
		scaled = 1
	}
	if scaled > limit {
		scaled = limit
	}
	return scaled
}

// Observe feeds one request outcome into the aggregate signals.
func (c *Controller) Observe(latency time.Duration, failed bool) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.Lock()
	c.requests++
	if failed {
		c.errors++
	}
	c.totalLatency += latency
	c.mu.Unlock()
}

// Recompute folds the signals gathered since the last call into a new factor.
// Error rate weighs heaviest, then latency, then request velocity growth.
func (c *Controller) Recompute(now time.Time) float64 {
	if c == nil || !c.enabled {
		return 1
	}
	c.mu.Lock()
	requests := c.requests
	errors := c.errors
	totalLatency := c.totalLatency
	interval := now.Sub(c.lastRecompute)
	lastRequests := c.lastRequests
	c.lastRequests = requests
	c.requests = 0
	c.errors = 0
	c.totalLatency = 0
	c.lastRecompute = now
	c.mu.Unlock()

	pressure := 0.0
	if requests > 0 {
		errorRate := float64(errors) / float64(requests)
		pressure += errorRate * 0.6

		avgLatency := totalLatency / time.Duration(requests)
		if avgLatency > 100*time.Millisecond {
			latencyOver := float64(avgLatency-100*time.Millisecond) / float64(time.Second)
			pressure += math.Min(latencyOver, 1) * 0.3
		}
		if lastRequests > 0 && interval > 0 && requests > 2*lastRequests {
			pressure += 0.1
		}
	}

	factor := c.ceiling * (1 - math.Min(pressure*c.sensitivity, 0.9))
	if factor > c.ceiling {
		factor = c.ceiling
	}
	if factor < defaultFloor*c.ceiling {
		factor = defaultFloor * c.ceiling
	}
	c.factorBits.Store(math.Float64bits(factor))
	return factor
}
