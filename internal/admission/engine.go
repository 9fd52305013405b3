package admission

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tripwise/gatekeeper/internal/adaptive"
	"github.com/tripwise/gatekeeper/internal/burst"
	"github.com/tripwise/gatekeeper/internal/metrics"
	"github.com/tripwise/gatekeeper/internal/quota"
	"github.com/tripwise/gatekeeper/internal/ratelimit"
	"github.com/tripwise/gatekeeper/internal/registry"
	"github.com/tripwise/gatekeeper/internal/risk"
)

// burstIdleTTL bounds how long idle burst state survives between sweeps.
const burstIdleTTL = time.Hour

// Engine orchestrates all admission checks. It is safe for concurrent use;
// one instance owns its state stores entirely.
type Engine struct {
	registry *registry.Registry
	eval     *ratelimit.Evaluator
	quotas   *quota.Tracker
	bursts   *burst.Detector
	adaptive *adaptive.Controller
	assessor *risk.Assessor
	metrics  *metrics.Aggregator
	recorder Recorder
	nowFn    func() time.Time
}

// Options inject engine dependencies; nil fields get defaults.
type Options struct {
	Store    *ratelimit.StateStore
	Quotas   *quota.Tracker
	Bursts   *burst.Detector
	Adaptive *adaptive.Controller
	Assessor *risk.Assessor
	Metrics  *metrics.Aggregator
	Recorder Recorder
	NowFn    func() time.Time
}

// NewEngine constructs an Engine around a config registry.
func NewEngine(reg *registry.Registry, opts Options) *Engine {
	if reg == nil {
		reg = registry.New()
	}
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	store := opts.Store
	if store == nil {
		store = ratelimit.NewStateStore()
	}
	quotas := opts.Quotas
	if quotas == nil {
		quotas = quota.NewTracker(nowFn)
	}
	bursts := opts.Bursts
	if bursts == nil {
		bursts = burst.NewDetector(nowFn)
	}
	assessor := opts.Assessor
	if assessor == nil {
		assessor = risk.NewAssessor(risk.DefaultThresholds())
	}
	aggregator := opts.Metrics
	if aggregator == nil {
		aggregator = metrics.NewAggregator(nil)
	}
	return &Engine{
		registry: reg,
		eval:     ratelimit.NewEvaluator(store, nowFn),
		quotas:   quotas,
		bursts:   bursts,
		adaptive: opts.Adaptive,
		assessor: assessor,
		metrics:  aggregator,
		recorder: opts.Recorder,
		nowFn:    nowFn,
	}
}

// Registry exposes the config registry for operator tooling.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Metrics exposes the aggregator for operator tooling.
func (e *Engine) Metrics() *metrics.Aggregator { return e.metrics }

// Adaptive exposes the throttle controller, which may be nil.
func (e *Engine) Adaptive() *adaptive.Controller { return e.adaptive }

// Decide produces exactly one verdict for the request. It is synchronous,
// never panics outward and fails open to ALLOW on internal errors.
func (e *Engine) Decide(req Request) Decision {
	start := e.nowFn()
	decision, scope := e.decide(req, start)

	// Recorded: tally and hand off, then the context is discarded.
	e.metrics.Record(scope, string(decision.Verdict))
	e.metrics.ObserveDecide(e.nowFn().Sub(start))
	e.adaptive.Observe(e.nowFn().Sub(start), !decision.Verdict.Allows())
	if e.recorder != nil {
		e.recorder.Record(req, decision)
	}
	return decision
}

// decide runs the per-request pipeline:
// Received -> ConfigResolved -> RulesEvaluated -> RiskAssessed -> Decided.
func (e *Engine) decide(req Request, now time.Time) (decision Decision, scope string) {
	currentPhase := phaseReceived
	requestID := strings.TrimSpace(req.Context.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	scope = "unscoped"

	defer func() {
		if r := recover(); r != nil {
			// Availability over strict enforcement: internal failures
			// fail open.
			log.WithField("phase", string(currentPhase)).
				Warnf("admission: internal error, failing open: %v", r)
			decision = Decision{
				RequestID: requestID,
				Verdict:   VerdictAllow,
				Remaining: -1,
				Reasons:   []string{"internal error, admitted fail-open"},
			}
		}
	}()

	snap := e.registry.Snapshot()
	cfg := snap.Resolve(req.Endpoint, req.Tier)
	currentPhase = phaseConfigResolved
	if cfg == nil {
		return Decision{
			RequestID: requestID,
			Verdict:   VerdictAllow,
			Remaining: -1,
			Reasons:   []string{"no applicable rate limit config"},
		}, scope
	}
	scope = cfg.ID

	verdict := VerdictAllow
	var reasons []string
	var appliedRules []string
	remaining := -1
	var resetAt time.Time
	var retryAfter time.Duration

	factorEnabled := cfg.Adaptive != nil && cfg.Adaptive.Enabled && e.adaptive.Enabled()

	for _, rule := range orderedRules(cfg.Rules) {
		identifier := identifierFor(rule.Scope, req)
		if identifier == "" || !rule.AppliesTo(req.Endpoint, identifier) {
			continue
		}
		limit := rule.Limit
		if factorEnabled {
			limit = e.adaptive.Scale(limit)
		}
		result := e.eval.Evaluate(rule, identifier, limit, now)
		appliedRules = append(appliedRules, rule.RuleID)

		if result.Allowed {
			if remaining < 0 || result.Remaining < remaining {
				remaining = result.Remaining
				resetAt = result.Reset
			}
			continue
		}

		reasons = append(reasons, fmt.Sprintf("rate limit exceeded: rule %s (%s per %s)", rule.RuleID, rule.Scope, rule.Window))
		remaining = 0
		resetAt = result.Reset
		if result.RetryAfter > retryAfter {
			retryAfter = result.RetryAfter
		}
		if rule.Blocking {
			// A blocking rule denial short-circuits everything else.
			currentPhase = phaseDecided
			return Decision{
				RequestID:      requestID,
				Verdict:        VerdictBlock,
				Remaining:      0,
				ResetAt:        result.Reset,
				RetryAfterMs:   result.RetryAfter.Milliseconds(),
				Reasons:        reasons,
				AppliedRuleIDs: appliedRules,
				ConfigID:       cfg.ID,
				Generation:     snap.Generation,
			}, scope
		}
		verdict = VerdictThrottle
	}
	currentPhase = phaseRulesEvaluated

	for _, quotaCfg := range cfg.Quotas {
		if !quota.AppliesToTier(quotaCfg, req.Tier) {
			continue
		}
		identifier := identifierFor(quotaCfg.Scope, req)
		if identifier == "" {
			continue
		}
		usage := e.quotas.Consume(identifier, quotaCfg, now)
		if !usage.Exceeded {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("quota exceeded: %s (%d/%d)", usage.QuotaID, usage.Count, usage.Limit))
		if usage.Blocking {
			currentPhase = phaseDecided
			return Decision{
				RequestID:      requestID,
				Verdict:        VerdictBlock,
				Remaining:      0,
				ResetAt:        usage.ResetAt,
				RetryAfterMs:   usage.ResetAt.Sub(now).Milliseconds(),
				Reasons:        reasons,
				AppliedRuleIDs: appliedRules,
				ConfigID:       cfg.ID,
				Generation:     snap.Generation,
			}, scope
		}
		// Advisory quotas surface in the reasons without changing the verdict.
	}

	if cfg.Burst != nil && cfg.Burst.Enabled {
		identifier := primaryIdentifier(req)
		if identifier != "" {
			outcome := e.bursts.Check(identifier, cfg.Burst, now)
			if outcome.Denied {
				reasons = append(reasons, fmt.Sprintf("burst limit exceeded (%d rapid requests)", outcome.Count))
				verdict = VerdictThrottle
				if outcome.RetryAfter > retryAfter {
					retryAfter = outcome.RetryAfter
				}
			} else if outcome.Flagged {
				reasons = append(reasons, "burst threshold reached")
			}
		}
	}

	assessment := e.assessor.Assess(req.Context)
	currentPhase = phaseRiskAssessed

	switch assessment.Recommendation {
	case risk.RecommendBlock:
		verdict = VerdictBlock
		reasons = append(reasons, fmt.Sprintf("risk %s (score %d)", assessment.Level, assessment.Score))
		for _, factor := range assessment.Factors {
			reasons = append(reasons, "risk factor: "+factor.Type)
		}
	case risk.RecommendChallenge:
		if verdict == VerdictAllow {
			verdict = VerdictChallenge
		}
		reasons = append(reasons, fmt.Sprintf("risk %s (score %d)", assessment.Level, assessment.Score))
	case risk.RecommendMonitor:
		if verdict == VerdictAllow {
			verdict = VerdictMonitor
		}
		reasons = append(reasons, fmt.Sprintf("risk %s (score %d)", assessment.Level, assessment.Score))
	}

	currentPhase = phaseDecided
	return Decision{
		RequestID:      requestID,
		Verdict:        verdict,
		Remaining:      remaining,
		ResetAt:        resetAt,
		RetryAfterMs:   retryAfter.Milliseconds(),
		Reasons:        reasons,
		AppliedRuleIDs: appliedRules,
		RiskScore:      assessment.Score,
		RiskLevel:      assessment.Level,
		ConfigID:       cfg.ID,
		Generation:     snap.Generation,
	}, scope
}

// ResetState clears rate limit, quota and burst state for an identifier.
// An empty scope clears the identifier across all scopes.
func (e *Engine) ResetState(identifier string, scope ratelimit.Scope) int {
	if e == nil || strings.TrimSpace(identifier) == "" {
		return 0
	}
	removed := e.eval.Store().Remove(scope, identifier)
	removed += e.quotas.Reset(identifier)
	if e.bursts.Reset(identifier) {
		removed++
	}
	log.Infof("admission: reset state identifier=%s scope=%s removed=%d", identifier, scope, removed)
	return removed
}

// Sweep reclaims idle per-identifier state. Callers run it on a schedule.
func (e *Engine) Sweep() int {
	if e == nil {
		return 0
	}
	now := e.nowFn()
	removed := e.eval.Store().Sweep(now)
	removed += e.quotas.Sweep(now)
	removed += e.bursts.Sweep(now, burstIdleTTL)
	return removed
}

// orderedRules returns enabled rules sorted by descending priority, leaving
// the shared config untouched.
func orderedRules(rules []ratelimit.Rule) []*ratelimit.Rule {
	ordered := make([]*ratelimit.Rule, 0, len(rules))
	for i := range rules {
		if rules[i].Enabled {
			ordered = append(ordered, &rules[i])
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}

// identifierFor picks the identifier a scope binds to.
func identifierFor(scope ratelimit.Scope, req Request) string {
	switch scope {
	case ratelimit.ScopeIP:
		if ip := strings.TrimSpace(req.Context.IP); ip != "" {
			return ip
		}
		return strings.TrimSpace(req.Identifier)
	case ratelimit.ScopeUser:
		return strings.TrimSpace(req.Context.UserID)
	case ratelimit.ScopeEndpoint:
		return strings.TrimSpace(req.Endpoint)
	case ratelimit.ScopeTier:
		return strings.TrimSpace(req.Tier)
	default:
		return ""
	}
}

// primaryIdentifier is the burst/reset subject: the caller-built identifier,
// falling back to the client IP.
func primaryIdentifier(req Request) string {
	if id := strings.TrimSpace(req.Identifier); id != "" {
		return id
	}
	return strings.TrimSpace(req.Context.IP)
}
