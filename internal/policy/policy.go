// Package policy implements the escalation state machine shared by the
// action detector and the score auditor: flag, cooldown, then block.
package policy

import (
	"time"

	"github.com/google/uuid"
	"github.com/luminex/warden/internal/domain"
)

const (
	// MaxStrikes is the number of rule matches after which a user stays
	// blocked until an operator resets the counter.
	MaxStrikes = 3

	// Cooldown is the window after a suspicious event during which every
	// check short-circuits to blocked without re-running the rules.
	Cooldown = 60 * time.Second

	// BlockConfidence marks an individual event as blocking on the audit
	// trail.
	BlockConfidence = 0.9
)

// State is the per-user escalation state derived from the ledger counters.
type State int

const (
	// StateNormal passes every check through to rule evaluation.
	StateNormal State = iota

	// StateFlagged has strikes on record but the cooldown has elapsed;
	// rules still run and a new match increments the counter.
	StateFlagged

	// StateCoolingDown short-circuits every check to suspicious+blocked.
	StateCoolingDown

	// StateBlocked is permanent until an operator resets the counter.
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateFlagged:
		return "flagged"
	case StateCoolingDown:
		return "cooling_down"
	case StateBlocked:
		return "blocked"
	default:
		return "normal"
	}
}

// Policy converts rule matches into decisions and audit records.
type Policy struct {
	MaxStrikes int
	Cooldown   time.Duration
}

// New creates a policy with the default three-strikes configuration.
func New() *Policy {
	return &Policy{
		MaxStrikes: MaxStrikes,
		Cooldown:   Cooldown,
	}
}

// StateOf derives the escalation state from the ledger counters.
// The strike counter never decays on its own: only the cooldown expires.
func (p *Policy) StateOf(strikes int, lastSuspiciousAt, now time.Time) State {
	if strikes >= p.MaxStrikes {
		return StateBlocked
	}
	if !lastSuspiciousAt.IsZero() && now.Sub(lastSuspiciousAt) < p.Cooldown {
		return StateCoolingDown
	}
	if strikes > 0 {
		return StateFlagged
	}
	return StateNormal
}

// InCooldown reports whether the cooldown window covers the instant.
func (p *Policy) InCooldown(lastSuspiciousAt, now time.Time) bool {
	return !lastSuspiciousAt.IsZero() && now.Sub(lastSuspiciousAt) < p.Cooldown
}

// Match describes a rule hit before escalation is applied.
type Match struct {
	Type       string
	Reason     string
	Confidence float64
	Details    map[string]interface{}
}

// Escalate converts a match plus the post-increment strike count into the
// caller-facing decision: blocked once the strike limit is reached.
func (p *Policy) Escalate(m *Match, strikes int) domain.Decision {
	return domain.Decision{
		Suspicious: true,
		Reason:     m.Reason,
		Confidence: m.Confidence,
		Blocked:    strikes >= p.MaxStrikes,
	}
}

// ActivityContext carries the call-level identifiers attached to an audit
// record.
type ActivityContext struct {
	UserID    string
	GameID    string
	DeviceID  string
	IPAddress string
}

// Activity builds the append-only audit record for a match. The record's
// blocked flag reflects whether the event itself blocks the actor, which
// is a property of the confidence rather than the strike count.
func (p *Policy) Activity(m *Match, ctx ActivityContext, now time.Time) *domain.SuspiciousActivity {
	return &domain.SuspiciousActivity{
		ID:         uuid.New().String(),
		UserID:     domain.NormalizeUserID(ctx.UserID),
		GameID:     ctx.GameID,
		Type:       m.Type,
		Severity:   domain.SeverityFor(m.Confidence),
		Reason:     m.Reason,
		Confidence: m.Confidence,
		DeviceID:   ctx.DeviceID,
		IPAddress:  ctx.IPAddress,
		Blocked:    m.Confidence >= BlockConfidence,
		Timestamp:  now,
		Details:    m.Details,
	}
}
