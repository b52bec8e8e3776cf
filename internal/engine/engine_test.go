package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/luminex/warden/internal/cache"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/reputation"
	"github.com/luminex/warden/internal/rules"
)

// recordingBus captures published events so tests can assert on the
// side-effect pipeline without timing games.
type recordingBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][][]byte)}
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[topic])
}

type testEngine struct {
	*Engine
	bus   *recordingBus
	clock time.Time
}

func (te *testEngine) advance(d time.Duration) {
	te.clock = te.clock.Add(d)
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.NewLRUCache(256)
	t.Cleanup(func() { c.Close() })

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}

	bus := newRecordingBus()
	eng := New(ledger.New(), reputation.New(c, nil, logger), ruleEngine, bus, c, logger)

	te := &testEngine{Engine: eng, bus: bus, clock: time.Now()}
	eng.now = func() time.Time { return te.clock }
	return te
}

func (te *testEngine) record(ctx context.Context, userID, actionType string) {
	te.RecordAction(ctx, &domain.ActionRequest{UserID: userID, Type: actionType})
}

func TestCheckActionNoLedgerPasses(t *testing.T) {
	te := newTestEngine(t)

	d := te.CheckAction(context.Background(), &domain.ActionRequest{UserID: "0xnew", Type: "claim_reward"})
	if d.Suspicious || d.Blocked {
		t.Fatalf("unknown user must pass, got %+v", d)
	}
}

func TestCheckActionSpeedViolation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.record(ctx, "0xabc", "tap")
	te.advance(10 * time.Millisecond)

	d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"})
	if !d.Suspicious || d.Confidence != 0.95 {
		t.Fatalf("expected speed violation at 0.95, got %+v", d)
	}
	if d.Blocked {
		t.Error("first strike must not block")
	}
	if te.bus.count(domain.TopicSuspiciousDetected) != 1 {
		t.Errorf("expected one suspicious event, got %d", te.bus.count(domain.TopicSuspiciousDetected))
	}
}

func TestCheckActionMacroScenario(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	// 20 actions 10ms apart. The second check trips the speed rule, every
	// later one lands inside the cooldown window.
	te.record(ctx, "0xabc", "tap")
	for i := 2; i <= 20; i++ {
		te.advance(10 * time.Millisecond)
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"})
		te.record(ctx, "0xabc", "tap")

		if !d.Suspicious {
			t.Fatalf("action %d: expected suspicious, got %+v", i, d)
		}
		if i == 2 {
			if d.Reason != "actions too fast" {
				t.Errorf("action 2: unexpected reason %q", d.Reason)
			}
		} else {
			if d.Reason != "suspicious cooldown" {
				t.Errorf("action %d: expected cooldown, got %q", i, d.Reason)
			}
			if !d.Blocked || d.Confidence != 0.95 {
				t.Errorf("action %d: expected blocked at 0.95, got %+v", i, d)
			}
		}
	}

	if stats := te.Stats("0xabc"); stats.SuspiciousCount != 1 {
		t.Errorf("cooldown checks must not add strikes, got %d", stats.SuspiciousCount)
	}
}

func TestThreeStrikesBlocksPermanently(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	// Three speed violations spaced beyond the cooldown
	for i := 0; i < 3; i++ {
		te.record(ctx, "0xabc", "tap")
		te.advance(10 * time.Millisecond)
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"})
		if !d.Suspicious {
			t.Fatalf("strike %d: expected suspicious, got %+v", i+1, d)
		}
		if i < 2 && d.Blocked {
			t.Fatalf("strike %d must not block yet", i+1)
		}
		if i == 2 && !d.Blocked {
			t.Fatal("third strike must block")
		}
		te.advance(2 * time.Minute)
	}

	if te.bus.count(domain.TopicUserBlocked) != 1 {
		t.Errorf("expected one blocked event, got %d", te.bus.count(domain.TopicUserBlocked))
	}

	// Well past any cooldown, with an action that passes every rule
	d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"})
	if !d.Blocked || d.Reason != "user blocked" || d.Confidence != 1.0 {
		t.Fatalf("expected permanent block, got %+v", d)
	}

	te.ResetSuspiciousCount("0xabc")
	d = te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"})
	if d.Suspicious {
		t.Fatalf("forgiven user must pass, got %+v", d)
	}
}

func TestCooldownIdempotence(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.record(ctx, "0xabc", "tap")
	te.advance(10 * time.Millisecond)
	if d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"}); !d.Suspicious {
		t.Fatalf("expected the strike, got %+v", d)
	}

	// Two otherwise-clean checks inside the window both short-circuit
	for i := 0; i < 2; i++ {
		te.advance(20 * time.Second)
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"})
		if !d.Blocked || d.Reason != "suspicious cooldown" {
			t.Fatalf("check %d: expected cooldown block, got %+v", i+1, d)
		}
	}

	// Past the window the same action passes
	te.advance(time.Minute)
	if d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"}); d.Suspicious {
		t.Fatalf("expected pass after cooldown, got %+v", d)
	}
}

func TestCheckActionCaseInsensitiveUser(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.record(ctx, "0xABC", "tap")
	te.advance(10 * time.Millisecond)

	d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"})
	if !d.Suspicious {
		t.Fatalf("case variants must share a ledger, got %+v", d)
	}
}

func TestCheckActionDeviceReputation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		te.RegisterDevice(ctx, "fp-1", u, nil)
	}
	te.record(ctx, "u1", "tap")
	te.advance(time.Second)

	d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "u1", Type: "tap", DeviceID: "fp-1"})
	if !d.Blocked || d.Confidence != 0.9 {
		t.Fatalf("expected multi-account device block, got %+v", d)
	}

	// Without the device the same action is clean
	d = te.CheckAction(ctx, &domain.ActionRequest{UserID: "u1", Type: "tap"})
	if d.Suspicious {
		t.Fatalf("expected pass without device, got %+v", d)
	}

	if te.bus.count(domain.TopicSuspiciousDetected) != 1 {
		t.Errorf("expected one multi-account event, got %d", te.bus.count(domain.TopicSuspiciousDetected))
	}
}

func TestCheckActionIPReputation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.record(ctx, "0xabc", "tap")
	te.advance(time.Second)

	t.Run("vpn block", func(t *testing.T) {
		te.RegisterIP(ctx, "203.0.113.9", "0xabc", &domain.RiskInfo{IsVPN: true})
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap", IPAddress: "203.0.113.9"})
		if !d.Blocked || d.Confidence != 1.0 || d.Reason != "ip address blocked" {
			t.Fatalf("expected ip block, got %+v", d)
		}
	})

	t.Run("high risk flagged not blocked", func(t *testing.T) {
		for _, u := range []string{"w", "x", "y", "z"} {
			te.RegisterIP(ctx, "198.51.100.9", u, &domain.RiskInfo{RiskLevel: domain.RiskHigh})
		}
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap", IPAddress: "198.51.100.9"})
		if !d.Suspicious || d.Blocked || d.Confidence != 0.85 {
			t.Fatalf("expected soft flag, got %+v", d)
		}
	})

	t.Run("high risk single user flagged not blocked", func(t *testing.T) {
		// High risk alone must flag the address, no shared-user pile-up needed.
		te.RegisterIP(ctx, "198.51.100.10", "w", &domain.RiskInfo{RiskLevel: domain.RiskHigh})
		d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap", IPAddress: "198.51.100.10"})
		if !d.Suspicious || d.Blocked || d.Confidence != 0.85 || d.Reason != "high risk ip address" {
			t.Fatalf("expected soft flag for lone high-risk user, got %+v", d)
		}
	})
}

func TestCheckActionCustomRule(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	err := te.ReloadRules([]*domain.CustomRule{{
		ID:         "reward-velocity",
		Name:       "Reward velocity",
		Version:    "1",
		Expression: `action_type == "claim_reward" && total_actions >= 3`,
		Confidence: 0.8,
		Reason:     "reward claims too frequent",
		Enabled:    true,
	}})
	if err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	for i := 0; i < 3; i++ {
		te.record(ctx, "0xabc", "spin")
		te.advance(2 * time.Second)
	}

	d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"})
	if !d.Suspicious || d.Confidence != 0.8 || d.Reason != "reward claims too frequent" {
		t.Fatalf("expected custom rule match, got %+v", d)
	}
	if d.Blocked {
		t.Error("first strike must not block")
	}

	// Builtin rules run first: a speed violation wins over the custom rule
	te.record(ctx, "0xabc", "claim_reward")
	te.advance(5 * time.Millisecond)
	te.ResetSuspiciousCount("0xabc")
	d = te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "claim_reward"})
	if d.Reason != "actions too fast" {
		t.Fatalf("expected builtin rule to win, got %+v", d)
	}
}

func TestValidateScore(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name           string
		req            ScoreRequest
		wantSuspicious bool
		wantConfidence float64
	}{
		{
			name:           "score rate scenario",
			req:            ScoreRequest{UserID: "u1", Score: 60000, DurationSeconds: 5, ActionsCount: 3},
			wantSuspicious: true,
			wantConfidence: 0.95,
		},
		{
			name:           "negative score",
			req:            ScoreRequest{UserID: "u2", Score: -1, DurationSeconds: 60, ActionsCount: 10},
			wantSuspicious: true,
			wantConfidence: 1.0,
		},
		{
			name:           "score above ceiling",
			req:            ScoreRequest{UserID: "u3", Score: 2_000_000, DurationSeconds: 600, ActionsCount: 5000},
			wantSuspicious: true,
			wantConfidence: 1.0,
		},
		{
			name:           "NaN score",
			req:            ScoreRequest{UserID: "u4", Score: math.NaN(), DurationSeconds: 60, ActionsCount: 10},
			wantSuspicious: true,
			wantConfidence: 1.0,
		},
		{
			name:           "plausible score",
			req:            ScoreRequest{UserID: "u5", Score: 100, DurationSeconds: 60, ActionsCount: 10},
			wantSuspicious: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := te.ValidateScore(ctx, &tt.req)
			if d.Suspicious != tt.wantSuspicious {
				t.Fatalf("suspicious = %v, want %v (%+v)", d.Suspicious, tt.wantSuspicious, d)
			}
			if !tt.wantSuspicious {
				return
			}
			if d.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %.2f, want %.2f", d.Confidence, tt.wantConfidence)
			}
			if !d.Blocked {
				t.Error("score anomalies always block the payout")
			}
		})
	}
}

func TestValidateScoreStrikesUserWithoutHistory(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	d := te.ValidateScore(ctx, &ScoreRequest{UserID: "0xghost", Score: 60000, DurationSeconds: 5, ActionsCount: 3})
	if !d.Blocked {
		t.Fatalf("expected block, got %+v", d)
	}

	stats := te.Stats("0xghost")
	if stats == nil || stats.SuspiciousCount != 1 {
		t.Fatalf("score-only abuser must carry a strike, got %+v", stats)
	}

	// And the strike puts them in cooldown for action checks
	te.record(ctx, "0xghost", "tap")
	te.advance(10 * time.Second)
	check := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xghost", Type: "tap"})
	if check.Reason != "suspicious cooldown" {
		t.Fatalf("expected cooldown after score strike, got %+v", check)
	}
}

func TestRecordActionPublishesAndRegisters(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	record := te.RecordAction(ctx, &domain.ActionRequest{
		UserID:    "0xABC",
		Type:      "spin",
		DeviceID:  "fp-9",
		IPAddress: "192.0.2.5",
	})
	if record.UserID != "0xabc" {
		t.Errorf("expected normalized user, got %q", record.UserID)
	}

	if te.bus.count(domain.TopicActionRecorded) != 1 {
		t.Fatalf("expected one recorded event, got %d", te.bus.count(domain.TopicActionRecorded))
	}

	var event domain.ActionRecordedEvent
	te.bus.mu.Lock()
	payload := te.bus.events[domain.TopicActionRecorded][0]
	te.bus.mu.Unlock()
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Record.Type != "spin" {
		t.Errorf("unexpected event record %+v", event.Record)
	}

	if stats := te.Stats("0xabc"); stats == nil || stats.TotalActions != 1 {
		t.Fatalf("expected one ledger action, got %+v", stats)
	}
}

func TestRecordActionBumpsSharedCounter(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.NewLRUCache(64)
	t.Cleanup(func() { c.Close() })

	eng := New(ledger.New(), reputation.New(c, nil, logger), nil, newRecordingBus(), c, logger)

	for i := 0; i < 3; i++ {
		eng.RecordAction(ctx, &domain.ActionRequest{UserID: "0xABC", Type: "tap"})
	}

	// The counter is keyed by the normalized user ID; our own increment
	// lands on top of the three recorded ones.
	count, err := c.IncrementCounter(ctx, actionCounterPrefix+"0xabc", actionCounterWindow)
	if err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected counter at 4 after three recorded actions, got %d", count)
	}

	// A nil cache skips the counter without failing the record path.
	bare := New(ledger.New(), reputation.New(c, nil, logger), nil, newRecordingBus(), nil, logger)
	if r := bare.RecordAction(ctx, &domain.ActionRequest{UserID: "0xdef", Type: "tap"}); r == nil {
		t.Fatal("expected record without a cache")
	}
}

func TestClearHistory(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.record(ctx, "0xabc", "tap")
	te.ClearHistory("0xabc")

	if stats := te.Stats("0xabc"); stats != nil {
		t.Fatalf("expected no stats after clear, got %+v", stats)
	}
	if d := te.CheckAction(ctx, &domain.ActionRequest{UserID: "0xabc", Type: "tap"}); d.Suspicious {
		t.Fatalf("cleared user must pass, got %+v", d)
	}
}
