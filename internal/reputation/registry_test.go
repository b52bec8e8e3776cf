package reputation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/luminex/warden/internal/cache"
	"github.com/luminex/warden/internal/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	c := cache.NewLRUCache(128)
	t.Cleanup(func() { c.Close() })
	return New(c, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterDeviceMultiAccount(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for i, userID := range []string{"0xAAA", "0xbbb", "0xccc"} {
		if m := r.RegisterDevice(ctx, "fp-1", userID, nil); m != nil {
			t.Fatalf("sighting %d must not match, got %+v", i+1, m)
		}
	}

	device := r.LookupDevice(ctx, "fp-1")
	if device == nil {
		t.Fatal("expected device record")
	}
	if device.Suspicious {
		t.Error("three users must not be suspicious")
	}

	// Fourth distinct user crosses the threshold exactly once
	m := r.RegisterDevice(ctx, "fp-1", "0xddd", nil)
	if m == nil {
		t.Fatal("expected a multi-account match")
	}
	if m.Type != domain.ActivityMultiAccountDevice {
		t.Errorf("unexpected match type %s", m.Type)
	}
	if m.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %.2f", m.Confidence)
	}

	device = r.LookupDevice(ctx, "fp-1")
	if device == nil || !device.Suspicious {
		t.Fatal("expected device to be suspicious after fourth user")
	}
	if len(device.UserIDs) != 4 {
		t.Errorf("expected 4 users, got %d", len(device.UserIDs))
	}

	// Re-registering any of them must stay quiet and keep the set stable
	if m := r.RegisterDevice(ctx, "fp-1", "0xDDD", nil); m != nil {
		t.Errorf("repeat sighting must not match again, got %+v", m)
	}
	device = r.LookupDevice(ctx, "fp-1")
	if len(device.UserIDs) != 4 {
		t.Errorf("repeat sighting must not grow the set, got %d users", len(device.UserIDs))
	}
}

func TestRegisterDeviceFifthUserStaysQuiet(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	matches := 0
	for _, u := range users {
		if m := r.RegisterDevice(ctx, "fp-2", u, nil); m != nil {
			matches++
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one multi-account match, got %d", matches)
	}
}

func TestRegisterDeviceIgnoresEmptyInput(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	if m := r.RegisterDevice(ctx, "", "u1", nil); m != nil {
		t.Errorf("empty fingerprint must be a no-op, got %+v", m)
	}
	if m := r.RegisterDevice(ctx, "fp-3", "", nil); m != nil {
		t.Errorf("empty user must be a no-op, got %+v", m)
	}
	if d := r.LookupDevice(ctx, "fp-3"); d != nil {
		t.Errorf("no record expected, got %+v", d)
	}
}

func TestRegisterIPVPNBlock(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.RegisterIP(ctx, "203.0.113.7", "0xabc", &domain.RiskInfo{IsVPN: true, RiskLevel: domain.RiskHigh})

	record := r.LookupIP(ctx, "203.0.113.7")
	if record == nil {
		t.Fatal("expected ip record")
	}
	if !record.Blocked || !record.Suspicious {
		t.Error("vpn address must be blocked and suspicious")
	}
	if !record.BlockedUntil.Equal(now.Add(BlockDuration)) {
		t.Errorf("expected block until %v, got %v", now.Add(BlockDuration), record.BlockedUntil)
	}
	if !record.BlockedAt(now.Add(23 * time.Hour)) {
		t.Error("expected block to cover 23h later")
	}
	if record.BlockedAt(now.Add(25 * time.Hour)) {
		t.Error("expected block to expire after 24h")
	}
}

func TestRegisterIPMergesRisk(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	r.RegisterIP(ctx, "198.51.100.4", "u1", &domain.RiskInfo{IsProxy: true, RiskLevel: domain.RiskMedium})
	r.RegisterIP(ctx, "198.51.100.4", "u2", &domain.RiskInfo{RiskLevel: domain.RiskLow})

	record := r.LookupIP(ctx, "198.51.100.4")
	if record == nil {
		t.Fatal("expected ip record")
	}
	if !record.IsProxy {
		t.Error("proxy flag must survive a later clean sighting")
	}
	if record.RiskLevel != domain.RiskMedium {
		t.Errorf("risk level must not downgrade, got %s", record.RiskLevel)
	}
	if len(record.UserIDs) != 2 {
		t.Errorf("expected 2 users, got %d", len(record.UserIDs))
	}
}

func TestRegisterIPHighRiskSuspiciousNotBlocked(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	// A single user from a high-risk address: suspicious, but only
	// anonymized addresses get the hard block.
	r.RegisterIP(ctx, "198.51.100.9", "u1", &domain.RiskInfo{RiskLevel: domain.RiskHigh})

	record := r.LookupIP(ctx, "198.51.100.9")
	if record == nil {
		t.Fatal("expected ip record")
	}
	if !record.Suspicious {
		t.Error("high-risk address must be suspicious")
	}
	if record.Blocked {
		t.Error("high risk alone must not block the address")
	}

	// A later medium-risk sighting must not clear the flag.
	r.RegisterIP(ctx, "198.51.100.9", "u1", &domain.RiskInfo{RiskLevel: domain.RiskMedium})
	record = r.LookupIP(ctx, "198.51.100.9")
	if record == nil || !record.Suspicious {
		t.Error("suspicious flag must survive a lower-risk sighting")
	}
}

func TestRegisterIPCleanAddressNotBlocked(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	r.RegisterIP(ctx, "192.0.2.1", "u1", nil)

	record := r.LookupIP(ctx, "192.0.2.1")
	if record == nil {
		t.Fatal("expected ip record")
	}
	if record.Blocked || record.Suspicious {
		t.Errorf("clean address must stay clean, got %+v", record)
	}
	if record.RiskLevel != domain.RiskLow {
		t.Errorf("expected low risk, got %s", record.RiskLevel)
	}
}

func TestLookupUnknownReturnsNil(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	if d := r.LookupDevice(ctx, "never-seen"); d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
	if ip := r.LookupIP(ctx, "10.0.0.1"); ip != nil {
		t.Errorf("expected nil, got %+v", ip)
	}
}
