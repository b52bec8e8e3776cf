package domain

import (
	"time"
)

// Decision is the result of a fraud check, returned by both the action
// detector and the score auditor.
type Decision struct {
	Suspicious bool    `json:"suspicious"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	Blocked    bool    `json:"blocked"`
}

// Clean is the decision for an action that matched no rule.
func Clean() Decision {
	return Decision{}
}

// Severity buckets for suspicious activity, derived from confidence.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps a rule confidence to a severity bucket.
func SeverityFor(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityHigh
	case confidence >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Suspicious activity types emitted by the engine.
const (
	ActivitySpeedViolation     = "speed_violation"
	ActivityBurstViolation     = "burst_violation"
	ActivityRepetitivePattern  = "repetitive_pattern"
	ActivityPerfectPattern     = "perfect_pattern"
	ActivityMachineTiming      = "machine_timing"
	ActivityRapidStateChange   = "rapid_state_change"
	ActivityCustomRule         = "custom_rule"
	ActivityScoreAnomaly       = "score_anomaly"
	ActivityMultiAccountDevice = "multi_account_device"
)

// SuspiciousActivity is an append-only audit fact describing a rule match.
// Never updated after creation.
type SuspiciousActivity struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	GameID     string                 `json:"gameId,omitempty"`
	Type       string                 `json:"type"`
	Severity   Severity               `json:"severity"`
	Reason     string                 `json:"reason"`
	Confidence float64                `json:"confidence"`
	DeviceID   string                 `json:"deviceId,omitempty"`
	IPAddress  string                 `json:"ipAddress,omitempty"`
	Blocked    bool                   `json:"blocked"` // true iff this event itself blocked the actor
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}
