// Package risk converts request context into a bounded, explainable abuse
// score and a recommendation for the admission engine.
package risk

// GeoContext carries geographic and network origin signals.
type GeoContext struct {
	Country   string `json:"country,omitempty"`
	HighRisk  bool   `json:"high_risk,omitempty"`
	Proxy     bool   `json:"proxy,omitempty"`
	VPN       bool   `json:"vpn,omitempty"`
	Tor       bool   `json:"tor,omitempty"`
	Populated bool   `json:"populated,omitempty"`
}

// DeviceContext carries device fingerprint signals.
type DeviceContext struct {
	KnownFingerprint   string `json:"known_fingerprint,omitempty"`
	CurrentFingerprint string `json:"current_fingerprint,omitempty"`
	Populated          bool   `json:"populated,omitempty"`
}

// BehaviorContext carries request velocity signals supplied by the caller.
type BehaviorContext struct {
	RequestsPerMinute int  `json:"requests_per_minute,omitempty"`
	Populated         bool `json:"populated,omitempty"`
}

// SecurityContext is the immutable per-request input to risk assessment.
type SecurityContext struct {
	RequestID string          `json:"request_id"`
	IP        string          `json:"ip,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	Geo       GeoContext      `json:"geo,omitempty"`
	Device    DeviceContext   `json:"device,omitempty"`
	Behavior  BehaviorContext `json:"behavior,omitempty"`
}

// Level classifies an overall score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Recommendation tells the engine what to do with the request.
type Recommendation string

const (
	RecommendAllow     Recommendation = "allow"
	RecommendMonitor   Recommendation = "monitor"
	RecommendChallenge Recommendation = "challenge"
	RecommendBlock     Recommendation = "block"
)

// Severity grades one contributing factor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Factor names one heuristic that contributed to the score.
type Factor struct {
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Score      int      `json:"score"`
}

// Assessment is the deterministic result of scoring one context.
type Assessment struct {
	Score          int            `json:"score"`
	Level          Level          `json:"level"`
	Factors        []Factor       `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// Thresholds map scores to levels. Upper bounds are exclusive.
type Thresholds struct {
	Medium   int `yaml:"medium" json:"medium"`
	High     int `yaml:"high" json:"high"`
	Critical int `yaml:"critical" json:"critical"`
}

// DefaultThresholds returns the standard classification boundaries:
// low < 30, medium < 60, high < 80, else critical.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 30, High: 60, Critical: 80}
}

// Classify maps a clamped score to its level.
func (t Thresholds) Classify(score int) Level {
	switch {
	case score < t.Medium:
		return LevelLow
	case score < t.High:
		return LevelMedium
	case score < t.Critical:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Recommend maps a level to the engine recommendation.
func Recommend(level Level) Recommendation {
	switch level {
	case LevelMedium:
		return RecommendMonitor
	case LevelHigh:
		return RecommendChallenge
	case LevelCritical:
		return RecommendBlock
	default:
		return RecommendAllow
	}
}
