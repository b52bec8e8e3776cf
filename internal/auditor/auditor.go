// Package auditor validates reported game scores against physical
// plausibility limits and the user's recorded play history.
package auditor

import (
	"fmt"
	"math"

	"github.com/luminex/warden/internal/detector"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/policy"
)

// Plausibility thresholds. Scores and rates beyond these are not
// achievable by a human player.
const (
	// MaxScorePerSecond caps the score-to-duration ratio.
	MaxScorePerSecond = 5000.0
	// MaxScorePerAction caps the score earned per recorded action.
	MaxScorePerAction = 10000.0
	// SprintScore and SprintDuration flag very high scores reported for
	// very short sessions.
	SprintScore    = 50000.0
	SprintDuration = 10.0
	// AccuracyScore is the minimum score at which a flawless accuracy
	// streak becomes suspicious.
	AccuracyScore = 30000.0
	// AccuracyMinSamples is the number of recorded actions a flawless
	// streak must cover before it counts.
	AccuracyMinSamples = 20
	// AccuracyWindow bounds how far back accuracy is sampled.
	AccuracyWindow = 100
	// MaxActionsPerSecond caps the reported action rate.
	MaxActionsPerSecond = 20.0
	// MaxScore is the largest score any game can legitimately award.
	MaxScore = 1_000_000.0
)

// Input is one reported game session result.
type Input struct {
	Score           float64
	DurationSeconds float64
	ActionsCount    int
}

type check func(in *Input, snap *ledger.Snapshot) *policy.Match

// checks run in order and the first match wins. Ratio checks run before
// the bounds checks so the most descriptive reason is reported.
func checks() []check {
	return []check{
		scoreRate,
		scorePerAction,
		sprintScore,
		flawlessAccuracy,
		invalidDuration,
		actionRate,
		scoreBounds,
	}
}

// Audit evaluates a reported score against each plausibility check in
// order. snap may be nil for a user with no recorded actions. Returns nil
// when the score passes every check.
func Audit(in *Input, snap *ledger.Snapshot) *policy.Match {
	for _, c := range checks() {
		if m := c(in, snap); m != nil {
			return m
		}
	}
	return nil
}

func scoreRate(in *Input, _ *ledger.Snapshot) *policy.Match {
	duration := math.Max(in.DurationSeconds, 1)
	rate := in.Score / duration
	if rate > MaxScorePerSecond {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "score too high",
			Confidence: 0.95,
			Details: map[string]interface{}{
				"score":            in.Score,
				"duration_seconds": in.DurationSeconds,
				"score_per_second": rate,
			},
		}
	}
	return nil
}

func scorePerAction(in *Input, _ *ledger.Snapshot) *policy.Match {
	if in.ActionsCount <= 0 {
		return nil
	}
	perAction := in.Score / float64(in.ActionsCount)
	if perAction > MaxScorePerAction {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "score per action too high",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"score":            in.Score,
				"actions_count":    in.ActionsCount,
				"score_per_action": perAction,
			},
		}
	}
	return nil
}

func sprintScore(in *Input, _ *ledger.Snapshot) *policy.Match {
	if in.Score > SprintScore && in.DurationSeconds < SprintDuration {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "high score in very short session",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"score":            in.Score,
				"duration_seconds": in.DurationSeconds,
			},
		}
	}
	return nil
}

func flawlessAccuracy(in *Input, snap *ledger.Snapshot) *policy.Match {
	// !(x > y) rather than x <= y so a NaN score falls through to the
	// bounds check instead of matching here.
	if snap == nil || !(in.Score > AccuracyScore) {
		return nil
	}
	accuracy, samples := detector.Accuracy(snap.Last(AccuracyWindow))
	if samples > AccuracyMinSamples && accuracy == 1.0 {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "flawless accuracy with high score",
			Confidence: 0.85,
			Details: map[string]interface{}{
				"score":   in.Score,
				"samples": samples,
			},
		}
	}
	return nil
}

func invalidDuration(in *Input, _ *ledger.Snapshot) *policy.Match {
	if in.DurationSeconds <= 0 {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     fmt.Sprintf("invalid session duration %.2fs", in.DurationSeconds),
			Confidence: 1.0,
			Details: map[string]interface{}{
				"duration_seconds": in.DurationSeconds,
			},
		}
	}
	return nil
}

func actionRate(in *Input, _ *ledger.Snapshot) *policy.Match {
	rate := float64(in.ActionsCount) / in.DurationSeconds
	if rate > MaxActionsPerSecond {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "action rate beyond human limits",
			Confidence: 0.9,
			Details: map[string]interface{}{
				"actions_count":      in.ActionsCount,
				"duration_seconds":   in.DurationSeconds,
				"actions_per_second": rate,
			},
		}
	}
	return nil
}

func scoreBounds(in *Input, _ *ledger.Snapshot) *policy.Match {
	if in.Score < 0 || in.Score > MaxScore || math.IsNaN(in.Score) || math.IsInf(in.Score, 0) {
		return &policy.Match{
			Type:       domain.ActivityScoreAnomaly,
			Reason:     "score out of bounds",
			Confidence: 1.0,
			Details: map[string]interface{}{
				"score": in.Score,
			},
		}
	}
	return nil
}
