package policy

import (
	"testing"
	"time"

	"github.com/luminex/warden/internal/domain"
)

func TestStateOf(t *testing.T) {
	p := New()
	now := time.Now()

	tests := []struct {
		name    string
		strikes int
		lastAt  time.Time
		want    State
	}{
		{"clean user", 0, time.Time{}, StateNormal},
		{"one strike, cooldown elapsed", 1, now.Add(-2 * time.Minute), StateFlagged},
		{"one strike, inside cooldown", 1, now.Add(-30 * time.Second), StateCoolingDown},
		{"strike seconds ago", 2, now.Add(-time.Second), StateCoolingDown},
		{"at strike limit", 3, now.Add(-time.Hour), StateBlocked},
		{"beyond strike limit", 5, time.Time{}, StateBlocked},
		{"cooldown boundary", 1, now.Add(-Cooldown), StateFlagged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.StateOf(tt.strikes, tt.lastAt, now); got != tt.want {
				t.Errorf("StateOf(%d, %v) = %s, want %s", tt.strikes, tt.lastAt, got, tt.want)
			}
		})
	}
}

func TestStateNeverDecays(t *testing.T) {
	p := New()
	now := time.Now()

	// A blocked user stays blocked no matter how long ago the last event was
	if got := p.StateOf(3, now.Add(-365*24*time.Hour), now); got != StateBlocked {
		t.Errorf("expected permanent block, got %s", got)
	}
}

func TestEscalate(t *testing.T) {
	p := New()
	m := &Match{
		Type:       domain.ActivitySpeedViolation,
		Reason:     "actions too fast",
		Confidence: 0.95,
	}

	d := p.Escalate(m, 1)
	if !d.Suspicious || d.Blocked {
		t.Errorf("first strike should flag but not block: %+v", d)
	}
	if d.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %.2f", d.Confidence)
	}

	d = p.Escalate(m, 3)
	if !d.Blocked {
		t.Error("third strike must block")
	}
}

func TestActivity(t *testing.T) {
	p := New()
	now := time.Now().UTC()

	m := &Match{
		Type:       domain.ActivityBurstViolation,
		Reason:     "action burst",
		Confidence: 0.9,
		Details:    map[string]any{"count": 17},
	}

	a := p.Activity(m, ActivityContext{
		UserID:   "0xABC",
		GameID:   "spin-wheel",
		DeviceID: "fp-001",
	}, now)

	if a.ID == "" {
		t.Error("expected generated activity ID")
	}
	if a.UserID != "0xabc" {
		t.Errorf("expected normalized user ID, got %s", a.UserID)
	}
	if a.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity at 0.9, got %s", a.Severity)
	}
	if !a.Blocked {
		t.Error("confidence 0.9 marks the event as blocking")
	}

	soft := p.Activity(&Match{Type: domain.ActivityRapidStateChange, Confidence: 0.85}, ActivityContext{UserID: "0xabc"}, now)
	if soft.Blocked {
		t.Error("confidence 0.85 must not mark the event as blocking")
	}
	if soft.Severity != domain.SeverityMedium {
		t.Errorf("expected medium severity at 0.85, got %s", soft.Severity)
	}
}
