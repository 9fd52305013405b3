// Package admission combines rate limit rules, quotas, burst detection and
// risk assessment into one admission verdict per request.
package admission

import (
	"time"

	"github.com/tripwise/gatekeeper/internal/risk"
)

// Verdict is the final admission outcome for one request.
type Verdict string

const (
	VerdictAllow     Verdict = "ALLOW"
	VerdictMonitor   Verdict = "MONITOR"
	VerdictChallenge Verdict = "CHALLENGE"
	VerdictThrottle  Verdict = "THROTTLE"
	VerdictBlock     Verdict = "BLOCK"
)

// Allows reports whether the request may proceed under this verdict.
func (v Verdict) Allows() bool {
	switch v {
	case VerdictAllow, VerdictMonitor:
		return true
	default:
		return false
	}
}

// Request carries everything the engine needs to decide one request.
type Request struct {
	Identifier string               `json:"identifier"`
	Endpoint   string               `json:"endpoint"`
	Tier       string               `json:"tier"`
	Context    risk.SecurityContext `json:"context"`
}

// Decision is the engine's verdict plus its full explanation. Exactly one
// decision is produced per request, on every code path.
type Decision struct {
	RequestID      string     `json:"request_id"`
	Verdict        Verdict    `json:"verdict"`
	Remaining      int        `json:"remaining"`
	ResetAt        time.Time  `json:"reset_at,omitempty"`
	RetryAfterMs   int64      `json:"retry_after_ms,omitempty"`
	Reasons        []string   `json:"reasons,omitempty"`
	AppliedRuleIDs []string   `json:"applied_rule_ids,omitempty"`
	RiskScore      int        `json:"risk_score"`
	RiskLevel      risk.Level `json:"risk_level,omitempty"`
	ConfigID       string     `json:"config_id,omitempty"`
	Generation     int64      `json:"generation,omitempty"`
}

// Recorder receives finished decisions. Implementations must not block; the
// engine calls them on the hot path after the verdict is fixed.
type Recorder interface {
	Record(req Request, decision Decision)
}

// phase tracks how far a request travelled through the decision pipeline.
// It exists so degraded paths can say where they failed.
type phase string

const (
	phaseReceived       phase = "received"
	phaseConfigResolved phase = "config_resolved"
	phaseRulesEvaluated phase = "rules_evaluated"
	phaseRiskAssessed   phase = "risk_assessed"
	phaseDecided        phase = "decided"
)
