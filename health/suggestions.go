package health

import (
	apperrors "github.com/kbukum/tradeguard/errors"
)

// Issue names a detected problem a suggestion addresses.
type Issue string

// Detected issues.
const (
	IssueHighErrorRate    Issue = "high_error_rate"
	IssueLowSuccessRate   Issue = "low_success_rate"
	IssueSlowResponses    Issue = "slow_responses"
	IssueErrorBurst       Issue = "error_burst"
	IssueRateLimited      Issue = "rate_limited"
	IssueAuthFailures     Issue = "auth_failures"
	IssueServerErrors     Issue = "server_errors"
	IssueDegradingTrend   Issue = "degrading_trend"
	IssueAnomalousTraffic Issue = "anomalous_traffic"
)

// Suggestion is a remediation for a detected issue. Automated marks actions
// an explicit automation policy may take; the rest need an operator. The
// monitor only reports suggestions and never acts on them.
type Suggestion struct {
	Issue       Issue  `json:"issue"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Automated   bool   `json:"automated"`
}

var remediations = map[Issue]Suggestion{
	IssueHighErrorRate: {
		Action:      "enable_circuit_breaker",
		Description: "Open the circuit breaker to stop calling the failing API.",
		Automated:   true,
	},
	IssueLowSuccessRate: {
		Action:      "check_exchange_status",
		Description: "Check the exchange status page and network connectivity.",
	},
	IssueSlowResponses: {
		Action:      "reduce_request_rate",
		Description: "Lower the token refill rate until latency recovers.",
		Automated:   true,
	},
	IssueErrorBurst: {
		Action:      "pause_low_priority",
		Description: "Hold LOW and MEDIUM traffic until the burst clears.",
		Automated:   true,
	},
	IssueRateLimited: {
		Action:      "throttle_bucket",
		Description: "Halve the throttle multiplier and review endpoint weights.",
		Automated:   true,
	},
	IssueAuthFailures: {
		Action:      "rotate_credentials",
		Description: "Verify API key permissions, IP whitelist and clock skew.",
	},
	IssueServerErrors: {
		Action:      "increase_retry_backoff",
		Description: "Increase retry backoff for transient server failures.",
		Automated:   true,
	},
	IssueDegradingTrend: {
		Action:      "investigate_trend",
		Description: "Metrics are degrading steadily; review recent changes and exchange announcements.",
	},
	IssueAnomalousTraffic: {
		Action:      "investigate_anomaly",
		Description: "A metric deviates sharply from its recent history.",
	},
}

// SuggestionFor returns the remediation for an issue.
func SuggestionFor(issue Issue) (Suggestion, bool) {
	s, ok := remediations[issue]
	if !ok {
		return Suggestion{}, false
	}
	s.Issue = issue
	return s, true
}

// detectIssues derives issues from the short snapshot and recent alerts.
func detectIssues(cfg *Config, short Snapshot, recent []Alert) []Issue {
	var issues []Issue
	seen := make(map[Issue]bool)
	add := func(i Issue) {
		if !seen[i] {
			seen[i] = true
			issues = append(issues, i)
		}
	}

	if short.Total >= cfg.MinRequests && short.Total > 0 {
		if short.ErrorRate > cfg.ErrorRateThreshold {
			add(IssueHighErrorRate)
		}
		if short.SuccessRate < cfg.SuccessRateThreshold {
			add(IssueLowSuccessRate)
		}
	}
	if short.Total > 0 && short.P95 > cfg.ResponseTimeThreshold {
		add(IssueSlowResponses)
	}
	if short.Errors[apperrors.ErrCodeRateLimit] > 0 {
		add(IssueRateLimited)
	}
	if short.Errors[apperrors.ErrCodeAuthentication] > 0 {
		add(IssueAuthFailures)
	}
	if short.Errors[apperrors.ErrCodeServer] > 0 {
		add(IssueServerErrors)
	}

	for _, a := range recent {
		switch a.Type {
		case AlertErrorBurst:
			add(IssueErrorBurst)
		case AlertSlowResponse:
			add(IssueSlowResponses)
		case AlertTrend:
			add(IssueDegradingTrend)
		case AlertAnomaly:
			add(IssueAnomalousTraffic)
		}
	}
	return issues
}
