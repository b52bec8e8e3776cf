package domain

import (
	"strings"
	"time"
)

// ActionRecord represents a single gameplay event in a user's activity
// ledger. Records are immutable once appended.
type ActionRecord struct {
	// Core identifiers
	UserID string `json:"userId"`
	GameID string `json:"gameId,omitempty"`

	// Action type (e.g., "tap", "spin", "claim_reward")
	Type string `json:"type"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Client context
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	// Optional payload supplied by the game client
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ActionRequest is the API request payload for recording an action.
type ActionRequest struct {
	UserID    string                 `json:"userId" validate:"required"`
	Type      string                 `json:"type" validate:"required"`
	GameID    string                 `json:"gameId,omitempty"`
	DeviceID  string                 `json:"deviceId,omitempty"`
	IPAddress string                 `json:"ipAddress,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ToRecord converts a request to an ActionRecord domain object.
func (r *ActionRequest) ToRecord() *ActionRecord {
	return &ActionRecord{
		UserID:    NormalizeUserID(r.UserID),
		GameID:    r.GameID,
		Type:      r.Type,
		Timestamp: time.Now().UTC(),
		DeviceID:  r.DeviceID,
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
		Payload:   r.Payload,
	}
}

// NormalizeUserID canonicalizes a user identity. Wallet addresses are
// case-insensitive, so every entry point lowercases before lookup.
func NormalizeUserID(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// ActivityStats summarizes a user's recent activity for operators.
type ActivityStats struct {
	UserID           string    `json:"userId"`
	TotalActions     int       `json:"totalActions"`
	RecentActions    int       `json:"recentActions"`    // actions in the last 60s
	AvgIntervalMs    float64   `json:"avgIntervalMs"`    // mean inter-arrival over that window
	ActionsPerSecond float64   `json:"actionsPerSecond"` // over that window
	SuspiciousCount  int       `json:"suspiciousCount"`
	LastSuspiciousAt time.Time `json:"lastSuspiciousAt,omitempty"`
	FirstActionAt    time.Time `json:"firstActionAt"`
	LastActionAt     time.Time `json:"lastActionAt"`
}
