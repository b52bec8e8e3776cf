// Package detector classifies incoming gameplay actions against a user's
// recent activity. The heuristics form an ordered decision list: rules are
// evaluated in a fixed order and the first match wins, so the ordering is
// load-bearing.
package detector

import (
	"time"

	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/policy"
)

// Detection thresholds. Tuned against recorded macro and replay traffic.
const (
	// SpeedFloor is the minimum human-plausible gap to the previous action.
	SpeedFloor = 50 * time.Millisecond

	// BurstWindow/BurstCount: too many actions inside a trailing window.
	BurstWindow = 1000 * time.Millisecond
	BurstCount  = 15

	// RepeatRun/RepeatVariance: identical actions with near-constant gaps.
	RepeatRun      = 5
	RepeatVariance = 100.0 // ms²

	// PerfectWindow/PerfectCount: too many perfect outcomes in recent play.
	PerfectWindow = 20
	PerfectCount  = 15

	// MachineRun/MachineSpread/MachineMinInterval: inter-arrival spread
	// tighter than human motor control produces.
	MachineRun         = 10
	MachineSpread      = 10 * time.Millisecond
	MachineMinInterval = 100 * time.Millisecond

	// RapidRun/RapidSpan: a run of state changes faster than a human UI
	// round trip.
	RapidRun  = 5
	RapidSpan = 200 * time.Millisecond
)

// Input describes the incoming action under evaluation. The action itself
// is not yet part of the snapshot.
type Input struct {
	Now        time.Time
	ActionType string
	Payload    map[string]interface{}
}

// Rule is a single predicate in the decision list.
type Rule struct {
	Type string
	Eval func(in *Input, snap *ledger.Snapshot) *policy.Match
}

// Rules returns the builtin decision list in evaluation order.
func Rules() []Rule {
	return []Rule{
		{Type: domain.ActivitySpeedViolation, Eval: speedViolation},
		{Type: domain.ActivityBurstViolation, Eval: burstViolation},
		{Type: domain.ActivityRepetitivePattern, Eval: repetitivePattern},
		{Type: domain.ActivityPerfectPattern, Eval: perfectPattern},
		{Type: domain.ActivityMachineTiming, Eval: machineTiming},
		{Type: domain.ActivityRapidStateChange, Eval: rapidStateChange},
	}
}

// Evaluate runs the decision list and returns the first match, or nil when
// the action looks clean.
func Evaluate(in *Input, snap *ledger.Snapshot) *policy.Match {
	for _, rule := range Rules() {
		if m := rule.Eval(in, snap); m != nil {
			return m
		}
	}
	return nil
}

// speedViolation fires when the gap to the immediately preceding action is
// below the human floor.
func speedViolation(in *Input, snap *ledger.Snapshot) *policy.Match {
	if len(snap.Actions) == 0 {
		return nil
	}
	last := snap.Actions[len(snap.Actions)-1]
	gap := in.Now.Sub(last.Timestamp)
	if gap >= 0 && gap < SpeedFloor {
		return &policy.Match{
			Type:       domain.ActivitySpeedViolation,
			Reason:     "actions too fast",
			Confidence: 0.95,
			Details: map[string]interface{}{
				"intervalMs": float64(gap.Microseconds()) / 1000.0,
				"floorMs":    SpeedFloor.Milliseconds(),
			},
		}
	}
	return nil
}

// burstViolation fires when the trailing window holds too many actions.
func burstViolation(in *Input, snap *ledger.Snapshot) *policy.Match {
	count := snap.CountSince(in.Now.Add(-BurstWindow))
	if count >= BurstCount {
		return &policy.Match{
			Type:       domain.ActivityBurstViolation,
			Reason:     "action burst",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"count":    count,
				"windowMs": BurstWindow.Milliseconds(),
			},
		}
	}
	return nil
}

// repetitivePattern fires when the last actions are identical with
// near-constant spacing.
func repetitivePattern(in *Input, snap *ledger.Snapshot) *policy.Match {
	run := snap.Last(RepeatRun)
	if len(run) < RepeatRun {
		return nil
	}
	for _, a := range run {
		if a.Type != run[0].Type {
			return nil
		}
	}
	variance := Variance(Intervals(run))
	if variance < RepeatVariance {
		return &policy.Match{
			Type:       domain.ActivityRepetitivePattern,
			Reason:     "repetitive action pattern",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"actionType": run[0].Type,
				"variance":   variance,
			},
		}
	}
	return nil
}

// perfectPattern fires when the incoming action claims a perfect outcome on
// top of a recent history that is almost entirely perfect.
func perfectPattern(in *Input, snap *ledger.Snapshot) *policy.Match {
	if !IsPerfect(in.Payload) {
		return nil
	}
	perfect := 0
	for _, a := range snap.Last(PerfectWindow) {
		if IsPerfect(a.Payload) {
			perfect++
		}
	}
	if perfect >= PerfectCount {
		return &policy.Match{
			Type:       domain.ActivityPerfectPattern,
			Reason:     "too many perfect actions",
			Confidence: 0.85,
			Details: map[string]interface{}{
				"perfectCount": perfect,
				"windowSize":   PerfectWindow,
			},
		}
	}
	return nil
}

// machineTiming fires when the inter-arrival spread over a run of fast
// actions is tighter than human motor control produces.
func machineTiming(in *Input, snap *ledger.Snapshot) *policy.Match {
	run := snap.Last(MachineRun)
	if len(run) < MachineRun {
		return nil
	}
	intervals := Intervals(run)
	min, max := MinMax(intervals)
	spreadMs := float64(MachineSpread.Microseconds()) / 1000.0
	minMs := float64(MachineMinInterval.Microseconds()) / 1000.0
	if max-min < spreadMs && min < minMs {
		return &policy.Match{
			Type:       domain.ActivityMachineTiming,
			Reason:     "machine-like timing",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"spreadMs":      max - min,
				"minIntervalMs": min,
			},
		}
	}
	return nil
}

// rapidStateChange fires when the last actions span less time than a human
// UI round trip.
func rapidStateChange(in *Input, snap *ledger.Snapshot) *policy.Match {
	run := snap.Last(RapidRun)
	if len(run) < RapidRun {
		return nil
	}
	span := run[len(run)-1].Timestamp.Sub(run[0].Timestamp)
	if span < RapidSpan {
		return &policy.Match{
			Type:       domain.ActivityRapidStateChange,
			Reason:     "rapid state changes",
			Confidence: 0.85,
			Details: map[string]interface{}{
				"spanMs": float64(span.Microseconds()) / 1000.0,
				"count":  len(run),
			},
		}
	}
	return nil
}
