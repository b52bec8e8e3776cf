// Package engine wires the ledger, detector, auditor, policy, reputation
// and custom rules into the decision surface the web layer calls.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/luminex/warden/internal/auditor"
	"github.com/luminex/warden/internal/detector"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/policy"
	"github.com/luminex/warden/internal/reputation"
	"github.com/luminex/warden/internal/rules"
)

const (
	// actionCounterPrefix keys the shared per-user action counters kept in
	// the cache. The ledger itself is process-local; with the Redis cache
	// these counters are the one signal all instances see.
	actionCounterPrefix = "actions:"

	// actionCounterWindow matches the 60s recent-activity window.
	actionCounterWindow = time.Minute

	// actionCounterAlarm is the per-window volume above which the engine
	// logs elevated cross-instance activity for a user.
	actionCounterAlarm = 120
)

// Engine is the fraud decision engine. Decisions are computed from
// in-memory state only; persistence happens off the decision path via the
// event bus.
type Engine struct {
	ledger     *ledger.Ledger
	policy     *policy.Policy
	reputation *reputation.Registry
	rules      *rules.Engine
	bus        domain.EventBus
	cache      domain.Cache
	logger     *slog.Logger

	now func() time.Time
}

// New creates an Engine. rulesEngine may be nil when no custom rules are
// configured; cache may be nil to skip the shared action counters.
func New(led *ledger.Ledger, rep *reputation.Registry, rulesEngine *rules.Engine, bus domain.EventBus, cache domain.Cache, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:     led,
		policy:     policy.New(),
		reputation: rep,
		rules:      rulesEngine,
		bus:        bus,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// RecordAction appends a gameplay event to the user's ledger and kicks off
// the fire-and-forget side effects: durable persistence via the bus and
// opportunistic reputation updates. Never fails to the caller.
func (e *Engine) RecordAction(ctx context.Context, req *domain.ActionRequest) *domain.ActionRecord {
	record := req.ToRecord()
	record.Timestamp = e.now().UTC()

	e.ledger.Append(record)
	e.countAction(ctx, record.UserID)

	e.publish(ctx, domain.TopicActionRecorded, &domain.ActionRecordedEvent{Record: record})

	if record.DeviceID != "" {
		if m := e.reputation.RegisterDevice(ctx, record.DeviceID, record.UserID, nil); m != nil {
			activity := e.policy.Activity(m, policy.ActivityContext{
				UserID:   record.UserID,
				GameID:   record.GameID,
				DeviceID: record.DeviceID,
			}, e.now())
			e.publish(ctx, domain.TopicSuspiciousDetected, &domain.SuspiciousDetectedEvent{Activity: activity})
		}
	}
	if record.IPAddress != "" {
		e.reputation.RegisterIP(ctx, record.IPAddress, record.UserID, nil)
	}

	return record
}

// countAction bumps the user's shared action counter. Counter faults are
// logged and swallowed like every other side effect of the record path.
func (e *Engine) countAction(ctx context.Context, userID string) {
	if e.cache == nil {
		return
	}
	count, err := e.cache.IncrementCounter(ctx, actionCounterPrefix+userID, actionCounterWindow)
	if err != nil {
		e.logger.Warn("failed to bump action counter", "user_id", userID, "error", err)
		return
	}
	if count > actionCounterAlarm {
		e.logger.Warn("elevated action volume across instances",
			"user_id", userID,
			"count", count,
			"window", actionCounterWindow)
	}
}

// RegisterDevice records a device sighting outside the action path.
func (e *Engine) RegisterDevice(ctx context.Context, fingerprint, userID string, metadata map[string]interface{}) {
	if m := e.reputation.RegisterDevice(ctx, fingerprint, userID, metadata); m != nil {
		activity := e.policy.Activity(m, policy.ActivityContext{
			UserID:   userID,
			DeviceID: fingerprint,
		}, e.now())
		e.publish(ctx, domain.TopicSuspiciousDetected, &domain.SuspiciousDetectedEvent{Activity: activity})
	}
}

// RegisterIP records an address sighting with an optional external risk
// verdict.
func (e *Engine) RegisterIP(ctx context.Context, address, userID string, risk *domain.RiskInfo) {
	e.reputation.RegisterIP(ctx, address, userID, risk)
}

// CheckAction evaluates an incoming sensitive action. Conditions run in a
// fixed order and the first match wins: reputation blocks, then the
// escalation state, then the builtin detector rules, then custom rules.
func (e *Engine) CheckAction(ctx context.Context, req *domain.ActionRequest) domain.Decision {
	userID := domain.NormalizeUserID(req.UserID)
	now := e.now()

	snap := e.ledger.Snapshot(userID)
	if snap == nil {
		// Nothing to compare against yet
		return domain.Clean()
	}

	if req.DeviceID != "" {
		if device := e.reputation.LookupDevice(ctx, req.DeviceID); device != nil {
			if device.Blocked {
				return domain.Decision{Suspicious: true, Reason: "device blocked", Confidence: 1.0, Blocked: true}
			}
			if device.Suspicious && len(device.UserIDs) > domain.MultiAccountThreshold {
				return domain.Decision{Suspicious: true, Reason: "device shared across accounts", Confidence: 0.9, Blocked: true}
			}
		}
	}

	if req.IPAddress != "" {
		if record := e.reputation.LookupIP(ctx, req.IPAddress); record != nil {
			if record.BlockedAt(now) {
				return domain.Decision{Suspicious: true, Reason: "ip address blocked", Confidence: 1.0, Blocked: true}
			}
			if record.Suspicious && record.RiskLevel == domain.RiskHigh {
				// Flagged but allowed, softer than an explicit block
				return domain.Decision{Suspicious: true, Reason: "high risk ip address", Confidence: 0.85, Blocked: false}
			}
		}
	}

	if snap.SuspiciousCount > 0 && e.policy.InCooldown(snap.LastSuspiciousAt, now) {
		return domain.Decision{Suspicious: true, Reason: "suspicious cooldown", Confidence: 0.95, Blocked: true}
	}

	if snap.SuspiciousCount >= e.policy.MaxStrikes {
		return domain.Decision{Suspicious: true, Reason: "user blocked", Confidence: 1.0, Blocked: true}
	}

	in := &detector.Input{Now: now, ActionType: req.Type, Payload: req.Payload}

	match := detector.Evaluate(in, snap)
	if match == nil && e.rules != nil {
		match = e.rules.EvaluateFirst(rules.BuildActivation(in, snap))
	}
	if match == nil {
		return domain.Clean()
	}

	return e.escalate(ctx, match, policy.ActivityContext{
		UserID:    userID,
		GameID:    req.GameID,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
	}, now, false)
}

// ScoreRequest is one reported session result to validate.
type ScoreRequest struct {
	UserID          string  `json:"userId" validate:"required"`
	Score           float64 `json:"score"`
	DurationSeconds float64 `json:"durationSeconds"`
	ActionsCount    int     `json:"actionsCount"`
	GameID          string  `json:"gameId,omitempty"`
	DeviceID        string  `json:"deviceId,omitempty"`
	IPAddress       string  `json:"ipAddress,omitempty"`
}

// ValidateScore audits a reported score. Any match blocks the payout
// outright and counts as a strike against the user.
func (e *Engine) ValidateScore(ctx context.Context, req *ScoreRequest) domain.Decision {
	userID := domain.NormalizeUserID(req.UserID)
	now := e.now()

	match := auditor.Audit(&auditor.Input{
		Score:           req.Score,
		DurationSeconds: req.DurationSeconds,
		ActionsCount:    req.ActionsCount,
	}, e.ledger.Snapshot(userID))
	if match == nil {
		return domain.Clean()
	}

	return e.escalate(ctx, match, policy.ActivityContext{
		UserID:    userID,
		GameID:    req.GameID,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
	}, now, true)
}

// escalate applies the strike bookkeeping for a rule match, emits the
// audit record, and shapes the caller-facing decision. forceBlock marks
// matches that block regardless of the strike count, such as score
// anomalies.
func (e *Engine) escalate(ctx context.Context, m *policy.Match, actx policy.ActivityContext, now time.Time, forceBlock bool) domain.Decision {
	strikes := e.ledger.MarkSuspicious(actx.UserID, now)

	activity := e.policy.Activity(m, actx, now)
	e.publish(ctx, domain.TopicSuspiciousDetected, &domain.SuspiciousDetectedEvent{Activity: activity})

	decision := e.policy.Escalate(m, strikes)
	if forceBlock {
		decision.Blocked = true
	}

	if decision.Blocked && strikes == e.policy.MaxStrikes {
		e.publish(ctx, domain.TopicUserBlocked, &domain.UserBlockedEvent{
			UserID:    activity.UserID,
			Reason:    m.Reason,
			Timestamp: now,
		})
		e.logger.Warn("user reached strike limit",
			"user_id", activity.UserID,
			"reason", m.Reason,
			"confidence", m.Confidence)
	}

	return decision
}

// ClearHistory deletes a user's in-memory state entirely.
func (e *Engine) ClearHistory(userID string) {
	e.ledger.Clear(userID)
}

// ResetSuspiciousCount forgives a user without touching their action
// history.
func (e *Engine) ResetSuspiciousCount(userID string) {
	e.ledger.ResetSuspicious(userID)
}

// Stats returns a user's activity summary, or nil when no ledger exists.
func (e *Engine) Stats(userID string) *domain.ActivityStats {
	return e.ledger.Stats(userID, e.now())
}

// ReloadRules hot-swaps the custom rule set.
func (e *Engine) ReloadRules(configs []*domain.CustomRule) error {
	if e.rules == nil {
		return nil
	}
	return e.rules.ReloadRules(configs)
}

// publish serializes an event onto the bus. Bus faults are logged and
// swallowed; the decision path never waits on delivery.
func (e *Engine) publish(ctx context.Context, topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		e.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
