package rules

import (
	"testing"
	"time"

	"github.com/luminex/warden/internal/detector"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLoadAndEvaluate(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadRule(&domain.CustomRule{
		ID:         "rule-reward-spam",
		Name:       "Reward claim spam",
		Version:    "1",
		Expression: `action_type == "claim_reward" && recent_actions > 3`,
		Confidence: 0.8,
		Reason:     "too many reward claims",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	activation := map[string]any{
		"action_type":        "claim_reward",
		"total_actions":      50,
		"recent_actions":     5,
		"suspicious_count":   0,
		"actions_per_second": 1.0,
		"avg_interval_ms":    900.0,
		"min_interval_ms":    500.0,
		"interval_variance":  20000.0,
		"interval_spread_ms": 800.0,
		"perfect_ratio":      0.4,
		"payload":            map[string]interface{}{},
	}

	m := e.EvaluateFirst(activation)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Type != domain.ActivityCustomRule {
		t.Errorf("unexpected type %s", m.Type)
	}
	if m.Reason != "too many reward claims" {
		t.Errorf("unexpected reason %q", m.Reason)
	}
	if m.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %.2f", m.Confidence)
	}
	if m.Details["rule_id"] != "rule-reward-spam" {
		t.Errorf("unexpected rule id %v", m.Details["rule_id"])
	}

	activation["recent_actions"] = 2
	if m := e.EvaluateFirst(activation); m != nil {
		t.Errorf("expected no match below threshold, got %+v", m)
	}
}

func TestEvaluateFirstOrderedByID(t *testing.T) {
	e := newTestEngine(t)

	for _, rule := range []*domain.CustomRule{
		{ID: "b-rule", Name: "B", Version: "1", Expression: `true`, Confidence: 0.5, Reason: "b matched", Enabled: true},
		{ID: "a-rule", Name: "A", Version: "1", Expression: `true`, Confidence: 0.5, Reason: "a matched", Enabled: true},
	} {
		if err := e.LoadRule(rule); err != nil {
			t.Fatalf("LoadRule(%s): %v", rule.ID, err)
		}
	}

	m := e.EvaluateFirst(BuildActivation(&detector.Input{Now: time.Now(), ActionType: "tap"}, nil))
	if m == nil || m.Reason != "a matched" {
		t.Fatalf("expected a-rule to win by ID order, got %+v", m)
	}
}

func TestCompileRejectsNonBool(t *testing.T) {
	e := newTestEngine(t)

	err := e.LoadRule(&domain.CustomRule{
		ID:         "bad-type",
		Version:    "1",
		Expression: `recent_actions + 1`,
		Confidence: 0.5,
		Enabled:    true,
	})
	if err == nil {
		t.Fatal("expected a compile error for non-bool expression")
	}
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	e := newTestEngine(t)

	if err := e.ValidateRule(&domain.CustomRule{
		ID:         "bad-syntax",
		Version:    "1",
		Expression: `recent_actions >`,
		Confidence: 0.5,
	}); err == nil {
		t.Fatal("expected a compile error for bad syntax")
	}
	if e.RulesCount() != 0 {
		t.Error("validation must not load the rule")
	}
}

func TestCompileRejectsOutOfRangeConfidence(t *testing.T) {
	e := newTestEngine(t)

	if err := e.LoadRule(&domain.CustomRule{
		ID:         "bad-confidence",
		Version:    "1",
		Expression: `true`,
		Confidence: 1.5,
	}); err == nil {
		t.Fatal("expected an error for confidence above 1")
	}
}

func TestReloadRulesReplacesAndSkipsDisabled(t *testing.T) {
	e := newTestEngine(t)

	if err := e.LoadRule(&domain.CustomRule{
		ID: "old", Version: "1", Expression: `true`, Confidence: 0.5, Enabled: true,
	}); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	err := e.ReloadRules([]*domain.CustomRule{
		{ID: "new-enabled", Version: "1", Expression: `true`, Confidence: 0.5, Enabled: true},
		{ID: "new-disabled", Version: "1", Expression: `true`, Confidence: 0.5, Enabled: false},
	})
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	loaded := e.LoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "new-enabled" {
		t.Fatalf("unexpected loaded rules: %+v", loaded)
	}
}

func TestRemoveRule(t *testing.T) {
	e := newTestEngine(t)

	if err := e.LoadRule(&domain.CustomRule{
		ID: "r1", Version: "1", Expression: `true`, Confidence: 0.5, Enabled: true,
	}); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}
	e.RemoveRule("r1")
	e.RemoveRule("never-loaded")
	if e.RulesCount() != 0 {
		t.Errorf("expected empty engine, got %d rules", e.RulesCount())
	}
}

func TestBuildActivation(t *testing.T) {
	now := time.Now()
	l := ledger.New()
	base := now.Add(-10 * time.Second)
	for i := 0; i < 5; i++ {
		payload := map[string]interface{}{}
		if i < 2 {
			payload["perfect"] = true
		}
		l.Append(&domain.ActionRecord{
			UserID:    "0xabc",
			Type:      "tap",
			Timestamp: base.Add(time.Duration(i) * 500 * time.Millisecond),
			Payload:   payload,
		})
	}
	l.MarkSuspicious("0xabc", now.Add(-5*time.Second))
	snap := l.Snapshot("0xabc")

	activation := BuildActivation(&detector.Input{Now: now, ActionType: "tap"}, snap)

	if activation["total_actions"] != 5 {
		t.Errorf("total_actions = %v", activation["total_actions"])
	}
	if activation["suspicious_count"] != 1 {
		t.Errorf("suspicious_count = %v", activation["suspicious_count"])
	}
	if activation["avg_interval_ms"] != 500.0 {
		t.Errorf("avg_interval_ms = %v", activation["avg_interval_ms"])
	}
	if activation["interval_variance"] != 0.0 {
		t.Errorf("interval_variance = %v", activation["interval_variance"])
	}
	if activation["actions_per_second"] != 2.0 {
		t.Errorf("actions_per_second = %v", activation["actions_per_second"])
	}
	if activation["perfect_ratio"] != 0.4 {
		t.Errorf("perfect_ratio = %v", activation["perfect_ratio"])
	}
}

func TestBuildActivationEmptySnapshot(t *testing.T) {
	activation := BuildActivation(&detector.Input{Now: time.Now(), ActionType: "tap"}, nil)
	if activation["total_actions"] != 0 || activation["perfect_ratio"] != 0.0 {
		t.Errorf("unexpected empty activation: %+v", activation)
	}
	if activation["payload"] == nil {
		t.Error("payload must never be nil")
	}
}
