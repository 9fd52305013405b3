package burst

import (
	"testing"
	"time"

	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func burstConfig() *ratelimit.BurstConfig {
	return &ratelimit.BurstConfig{
		Enabled:   true,
		Limit:     3,
		Window:    100 * time.Millisecond,
		Cooldown:  10 * time.Second,
		Threshold: 2,
	}
}

func TestSpikeDeniesWithCooldownRetry(t *testing.T) {
	detector := NewDetector(fixedNow)
	cfg := burstConfig()
	now := fixedNow()

	var out Outcome
	for i := 0; i < 5; i++ {
		out = detector.Check("1.2.3.4", cfg, now.Add(time.Duration(i)*10*time.Millisecond))
	}
	if !out.Denied {
		t.Fatalf("expected burst denial after %d rapid requests, count=%d", 5, out.Count)
	}
	if out.RetryAfter != cfg.Cooldown {
		t.Fatalf("expected retry after %s, got %s", cfg.Cooldown, out.RetryAfter)
	}
}

func TestThresholdFlagsBeforeDenial(t *testing.T) {
	detector := NewDetector(fixedNow)
	cfg := burstConfig()
	now := fixedNow()

	detector.Check("1.2.3.4", cfg, now)
	detector.Check("1.2.3.4", cfg, now.Add(10*time.Millisecond))
	out := detector.Check("1.2.3.4", cfg, now.Add(20*time.Millisecond))
	if out.Denied {
		t.Fatalf("expected no denial at count=%d", out.Count)
	}
	if !out.Flagged {
		t.Fatalf("expected flag at threshold, count=%d", out.Count)
	}
}

func TestCooldownHoldsThenDecays(t *testing.T) {
	detector := NewDetector(fixedNow)
	cfg := burstConfig()
	now := fixedNow()

	for i := 0; i < 5; i++ {
		detector.Check("1.2.3.4", cfg, now.Add(time.Duration(i)*10*time.Millisecond))
	}

	// Mid-cooldown arrivals stay denied.
	mid := detector.Check("1.2.3.4", cfg, now.Add(5*time.Second))
	if !mid.Denied {
		t.Fatalf("expected denial during cooldown")
	}

	// A full quiet cooldown decays the counter back to zero.
	after := detector.Check("1.2.3.4", cfg, now.Add(30*time.Second))
	if after.Denied || after.Count != 0 {
		t.Fatalf("expected decayed state after cooldown, denied=%v count=%d", after.Denied, after.Count)
	}
}

func TestSpacedRequestsNeverBurst(t *testing.T) {
	detector := NewDetector(fixedNow)
	cfg := burstConfig()
	now := fixedNow()

	for i := 0; i < 10; i++ {
		out := detector.Check("1.2.3.4", cfg, now.Add(time.Duration(i)*time.Second))
		if out.Denied || out.Flagged {
			t.Fatalf("request %d: expected spaced requests to pass, count=%d", i+1, out.Count)
		}
	}
}

func TestResetAndSweep(t *testing.T) {
	detector := NewDetector(fixedNow)
	cfg := burstConfig()
	now := fixedNow()

	detector.Check("1.2.3.4", cfg, now)
	detector.Check("5.6.7.8", cfg, now)

	if !detector.Reset("1.2.3.4") {
		t.Fatalf("expected reset to find state")
	}
	if removed := detector.Sweep(now.Add(time.Hour), time.Minute); removed != 1 {
		t.Fatalf("expected 1 swept state, got %d", removed)
	}
}
