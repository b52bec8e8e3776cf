// Package rules provides the CEL-Go based custom rule engine. Operators
// write boolean expressions over derived activity features; the engine
// runs them after the builtin decision list has found nothing.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/luminex/warden/internal/detector"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/policy"
)

// Engine compiles and evaluates operator-defined rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	rule    *domain.CustomRule
	program cel.Program
}

// NewEngine creates an engine with the activity feature environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("total_actions", cel.IntType),
		cel.Variable("recent_actions", cel.IntType),
		cel.Variable("suspicious_count", cel.IntType),
		cel.Variable("actions_per_second", cel.DoubleType),
		cel.Variable("avg_interval_ms", cel.DoubleType),
		cel.Variable("min_interval_ms", cel.DoubleType),
		cel.Variable("interval_variance", cel.DoubleType),
		cel.Variable("interval_spread_ms", cel.DoubleType),
		cel.Variable("perfect_ratio", cel.DoubleType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.CustomRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.CustomRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.compiled[rule.ID] = compiled

	return nil
}

// ReloadRules replaces every loaded rule with the enabled subset of the
// given set. Used for hot-reloading from the store.
func (e *Engine) ReloadRules(configs []*domain.CustomRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledRule)
	for _, rule := range configs {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiled = next

	return nil
}

// RemoveRule unloads a rule. Removing an unknown rule is a no-op.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled, id)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the loaded rules ordered by ID.
func (e *Engine) LoadedRules() []*domain.CustomRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c.rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// EvaluateFirst runs the loaded rules in ID order against the activation
// and returns a match for the first rule that fires, or nil. A rule whose
// evaluation errors is skipped; a bad rule must never block a decision.
func (e *Engine) EvaluateFirst(activation map[string]any) *policy.Match {
	e.mu.RLock()
	ordered := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		ordered = append(ordered, c)
	}
	e.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].rule.ID < ordered[j].rule.ID })

	for _, c := range ordered {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		reason := c.rule.Reason
		if reason == "" {
			reason = c.rule.Name
		}
		return &policy.Match{
			Type:       domain.ActivityCustomRule,
			Reason:     reason,
			Confidence: c.rule.Confidence,
			Details: map[string]interface{}{
				"rule_id":      c.rule.ID,
				"rule_name":    c.rule.Name,
				"rule_version": c.rule.Version,
			},
		}
	}

	return nil
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	return nil
}

func (e *Engine) compile(rule *domain.CustomRule) (*compiledRule, error) {
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return nil, fmt.Errorf("rule %s: confidence must be within [0, 1]", rule.ID)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}

// BuildActivation derives the feature map a rule expression sees from the
// incoming action and the user's ledger snapshot. snap may be nil.
func BuildActivation(in *detector.Input, snap *ledger.Snapshot) map[string]any {
	payload := in.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	activation := map[string]any{
		"action_type":        in.ActionType,
		"total_actions":      0,
		"recent_actions":     0,
		"suspicious_count":   0,
		"actions_per_second": 0.0,
		"avg_interval_ms":    0.0,
		"min_interval_ms":    0.0,
		"interval_variance":  0.0,
		"interval_spread_ms": 0.0,
		"perfect_ratio":      0.0,
		"payload":            payload,
	}
	if snap == nil {
		return activation
	}

	activation["total_actions"] = len(snap.Actions)
	activation["recent_actions"] = snap.CountSince(in.Now.Add(-detector.BurstWindow))
	activation["suspicious_count"] = snap.SuspiciousCount

	intervals := detector.Intervals(snap.Actions)
	if len(intervals) > 0 {
		avg := detector.Mean(intervals)
		min, max := detector.MinMax(intervals)
		activation["avg_interval_ms"] = avg
		activation["min_interval_ms"] = min
		activation["interval_variance"] = detector.Variance(intervals)
		activation["interval_spread_ms"] = max - min
		if avg > 0 {
			activation["actions_per_second"] = 1000.0 / avg
		}
	}

	perfect := 0
	for _, a := range snap.Actions {
		if detector.IsPerfect(a.Payload) {
			perfect++
		}
	}
	if len(snap.Actions) > 0 {
		activation["perfect_ratio"] = float64(perfect) / float64(len(snap.Actions))
	}

	return activation
}
