package domain

import (
	"time"
)

// RiskLevel is a coarse classification of a network address, supplied by an
// external reputation source.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MultiAccountThreshold is the number of distinct users beyond which a
// shared device or address is flagged as a multi-account signal.
const MultiAccountThreshold = 3

// DeviceFingerprint tracks every user identity seen with a device token.
type DeviceFingerprint struct {
	Fingerprint string                 `json:"fingerprint"`
	UserIDs     []string               `json:"userIds"`
	Suspicious  bool                   `json:"suspicious"`
	Blocked     bool                   `json:"blocked"`
	LastSeen    time.Time              `json:"lastSeen"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HasUser reports whether the user is already associated with the device.
func (d *DeviceFingerprint) HasUser(userID string) bool {
	for _, id := range d.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IPRecord tracks every user identity seen from a network address together
// with the reputation verdict for that address.
type IPRecord struct {
	Address      string    `json:"address"`
	UserIDs      []string  `json:"userIds"`
	IsVPN        bool      `json:"isVpn"`
	IsProxy      bool      `json:"isProxy"`
	IsTor        bool      `json:"isTor"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	Suspicious   bool      `json:"suspicious"`
	Blocked      bool      `json:"blocked"`
	BlockedUntil time.Time `json:"blockedUntil,omitempty"`
	LastSeen     time.Time `json:"lastSeen"`
}

// HasUser reports whether the user is already associated with the address.
func (r *IPRecord) HasUser(userID string) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// BlockedAt reports whether the address block window covers the instant.
func (r *IPRecord) BlockedAt(now time.Time) bool {
	return r.Blocked && now.Before(r.BlockedUntil)
}

// RiskInfo is the result shape consumed from an external IP reputation
// provider. The engine never performs the lookup itself.
type RiskInfo struct {
	IsVPN     bool      `json:"isVpn"`
	IsProxy   bool      `json:"isProxy"`
	IsTor     bool      `json:"isTor"`
	RiskLevel RiskLevel `json:"riskLevel,omitempty"`
}

// Anonymized reports whether the address hides its origin.
func (i *RiskInfo) Anonymized() bool {
	return i.IsVPN || i.IsProxy || i.IsTor
}

// riskRank orders risk levels for merging.
func riskRank(l RiskLevel) int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskRank(b) > riskRank(a) {
		return b
	}
	if a == "" {
		return RiskLow
	}
	return a
}
