package health

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity ranks an alert.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AlertType names the condition an alert reports.
type AlertType string

// Alert types.
const (
	AlertSlowResponse   AlertType = "SLOW_RESPONSE"
	AlertErrorBurst     AlertType = "ERROR_BURST"
	AlertLowSuccessRate AlertType = "LOW_SUCCESS_RATE"
	AlertHighErrorRate  AlertType = "HIGH_ERROR_RATE"
	AlertTrend          AlertType = "TREND"
	AlertAnomaly        AlertType = "ANOMALY"
)

// Alert is a detected health condition.
type Alert struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Type      AlertType      `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CooldownKey identifies alerts that suppress each other.
func (a Alert) CooldownKey() string {
	return fmt.Sprintf("%s:%s", a.Severity, a.Type)
}

func newAlert(sev Severity, typ AlertType, msg string, details map[string]any, at time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Severity:  sev,
		Type:      typ,
		Message:   msg,
		Details:   details,
		Timestamp: at,
	}
}
