package risk

import (
	log "github.com/sirupsen/logrus"
)

const maxScore = 100

// Strategy contributes a partial score and its factors for one context.
// Implementations must be deterministic; model-backed strategies plug in
// here without touching the engine.
type Strategy interface {
	Contribute(sc SecurityContext) (int, []Factor, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(sc SecurityContext) (int, []Factor, error)

// Contribute implements Strategy.
func (f StrategyFunc) Contribute(sc SecurityContext) (int, []Factor, error) {
	return f(sc)
}

// Assessor runs all configured strategies and classifies the total.
type Assessor struct {
	strategies []Strategy
	thresholds Thresholds
}

// NewAssessor constructs an Assessor. With no strategies it runs the
// built-in heuristic strategy with default weights.
func NewAssessor(thresholds Thresholds, strategies ...Strategy) *Assessor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if len(strategies) == 0 {
		strategies = []Strategy{NewHeuristicStrategy(DefaultWeights())}
	}
	return &Assessor{
		strategies: strategies,
		thresholds: thresholds,
	}
}

// Assess scores the context deterministically. A failing strategy degrades
// to its absence ("low risk, insufficient data") instead of blocking.
func (a *Assessor) Assess(sc SecurityContext) Assessment {
	if a == nil {
		return Assessment{Level: LevelLow, Recommendation: RecommendAllow}
	}

	total := 0
	degraded := false
	var factors []Factor
	for _, strategy := range a.strategies {
		score, contributed, errContribute := strategy.Contribute(sc)
		if errContribute != nil {
			degraded = true
			log.WithError(errContribute).Warn("risk: strategy degraded, scoring without its signal")
			continue
		}
		if score < 0 {
			score = 0
		}
		total += score
		factors = append(factors, contributed...)
	}
	if total > maxScore {
		total = maxScore
	}

	level := a.thresholds.Classify(total)
	return Assessment{
		Score:          total,
		Level:          level,
		Factors:        factors,
		Recommendation: Recommend(level),
		Degraded:       degraded,
	}
}
