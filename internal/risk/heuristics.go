package risk

import "strings"

// Weights fix the increment each heuristic adds when it triggers.
type Weights struct {
	BotUserAgent      int `yaml:"bot-user-agent" json:"bot_user_agent"`
	HighRiskGeo       int `yaml:"high-risk-geo" json:"high_risk_geo"`
	ProxyOrVPN        int `yaml:"proxy-or-vpn" json:"proxy_or_vpn"`
	TorExit           int `yaml:"tor-exit" json:"tor_exit"`
	HighVelocity      int `yaml:"high-velocity" json:"high_velocity"`
	DeviceMismatch    int `yaml:"device-mismatch" json:"device_mismatch"`
	VelocityPerMinute int `yaml:"velocity-per-minute" json:"velocity_per_minute"`
}

// DefaultWeights returns the standard heuristic increments.
func DefaultWeights() Weights {
	return Weights{
		BotUserAgent:      30,
		HighRiskGeo:       20,
		ProxyOrVPN:        15,
		TorExit:           25,
		HighVelocity:      40,
		DeviceMismatch:    25,
		VelocityPerMinute: 120,
	}
}

// botMarkers are user agent substrings treated as automation indicators.
var botMarkers = []string{
	"bot", "crawler", "spider", "scraper",
	"curl/", "wget/", "python-requests", "go-http-client", "headless",
}

// HeuristicStrategy is the built-in deterministic scoring strategy.
type HeuristicStrategy struct {
	weights Weights
}

// NewHeuristicStrategy constructs the strategy, filling zero weights from
// the defaults.
func NewHeuristicStrategy(weights Weights) *HeuristicStrategy {
	defaults := DefaultWeights()
	if weights.BotUserAgent == 0 {
		weights.BotUserAgent = defaults.BotUserAgent
	}
	if weights.HighRiskGeo == 0 {
		weights.HighRiskGeo = defaults.HighRiskGeo
	}
	if weights.ProxyOrVPN == 0 {
		weights.ProxyOrVPN = defaults.ProxyOrVPN
	}
	if weights.TorExit == 0 {
		weights.TorExit = defaults.TorExit
	}
	if weights.HighVelocity == 0 {
		weights.HighVelocity = defaults.HighVelocity
	}
	if weights.DeviceMismatch == 0 {
		weights.DeviceMismatch = defaults.DeviceMismatch
	}
	if weights.VelocityPerMinute == 0 {
		weights.VelocityPerMinute = defaults.VelocityPerMinute
	}
	return &HeuristicStrategy{weights: weights}
}

// Contribute implements Strategy.
func (h *HeuristicStrategy) Contribute(sc SecurityContext) (int, []Factor, error) {
	total := 0
	var factors []Factor
	add := func(factorType string, severity Severity, confidence float64, score int) {
		total += score
		factors = append(factors, Factor{
			Type:       factorType,
			Severity:   severity,
			Confidence: confidence,
			Score:      score,
		})
	}

	if isBotUserAgent(sc.UserAgent) {
		add("bot_user_agent", SeverityHigh, 0.9, h.weights.BotUserAgent)
	}
	if sc.Geo.Populated {
		if sc.Geo.Tor {
			add("tor_exit", SeverityHigh, 0.95, h.weights.TorExit)
		} else if sc.Geo.Proxy || sc.Geo.VPN {
			add("proxy_or_vpn", SeverityMedium, 0.8, h.weights.ProxyOrVPN)
		}
		if sc.Geo.HighRisk {
			add("high_risk_geo", SeverityMedium, 0.7, h.weights.HighRiskGeo)
		}
	}
	if sc.Behavior.Populated && sc.Behavior.RequestsPerMinute > h.weights.VelocityPerMinute {
		add("high_velocity", SeverityHigh, 0.85, h.weights.HighVelocity)
	}
	if sc.Device.Populated && deviceMismatch(sc.Device) {
		add("device_mismatch", SeverityMedium, 0.75, h.weights.DeviceMismatch)
	}
	return total, factors, nil
}

func isBotUserAgent(userAgent string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(userAgent))
	if trimmed == "" {
		return false
	}
	for _, marker := range botMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

func deviceMismatch(device DeviceContext) bool {
	known := strings.TrimSpace(device.KnownFingerprint)
	current := strings.TrimSpace(device.CurrentFingerprint)
	return known != "" && current != "" && known != current
}
