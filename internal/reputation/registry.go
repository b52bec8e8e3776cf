// Package reputation tracks which user identities share devices and
// network addresses. Records live in the cache for fast decision-path
// lookups and are written through to the store best effort.
package reputation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/policy"
)

const (
	// BlockDuration is how long an anonymized address stays blocked.
	BlockDuration = 24 * time.Hour

	// recordTTL bounds how long a reputation record stays cached without
	// a fresh sighting.
	recordTTL = 30 * time.Minute

	devicePrefix = "device:"
	ipPrefix     = "ip:"
)

// Registry maintains device and address reputation records.
type Registry struct {
	cache  domain.Cache
	store  domain.Store
	logger *slog.Logger

	// mu serializes read-merge-write cycles so concurrent sightings of
	// the same device or address cannot drop each other's users.
	mu sync.Mutex

	now func() time.Time
}

// New creates a Registry. store may be nil; lookups then rely on the
// cache alone.
func New(cache domain.Cache, store domain.Store, logger *slog.Logger) *Registry {
	return &Registry{
		cache:  cache,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterDevice records a sighting of userID on the device. When the
// sighting pushes the device past the multi-account threshold it returns
// a match describing the transition; every other outcome returns nil.
// Failures degrade to a no-op.
func (r *Registry) RegisterDevice(ctx context.Context, fingerprint, userID string, metadata map[string]interface{}) *policy.Match {
	if fingerprint == "" || userID == "" {
		return nil
	}
	userID = domain.NormalizeUserID(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	device := r.lookupDevice(ctx, fingerprint)
	if device == nil {
		device = &domain.DeviceFingerprint{Fingerprint: fingerprint}
	}

	crossed := false
	if !device.HasUser(userID) {
		device.UserIDs = append(device.UserIDs, userID)
		if len(device.UserIDs) == domain.MultiAccountThreshold+1 {
			crossed = true
		}
	}
	if len(device.UserIDs) > domain.MultiAccountThreshold {
		device.Suspicious = true
	}
	device.LastSeen = now
	if metadata != nil {
		device.Metadata = metadata
	}

	r.saveDevice(ctx, device)

	if !crossed {
		return nil
	}
	return &policy.Match{
		Type:       domain.ActivityMultiAccountDevice,
		Reason:     "multiple accounts on one device",
		Confidence: 0.9,
		Details: map[string]interface{}{
			"fingerprint": fingerprint,
			"user_count":  len(device.UserIDs),
		},
	}
}

// RegisterIP records a sighting of userID from the address, merging any
// supplied risk verdict. Anonymized addresses (VPN, proxy, Tor) are
// blocked for BlockDuration from the time of the call. Failures degrade
// to a no-op.
func (r *Registry) RegisterIP(ctx context.Context, address, userID string, risk *domain.RiskInfo) {
	if address == "" || userID == "" {
		return
	}
	userID = domain.NormalizeUserID(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	record := r.lookupIP(ctx, address)
	if record == nil {
		record = &domain.IPRecord{Address: address, RiskLevel: domain.RiskLow}
	}

	if !record.HasUser(userID) {
		record.UserIDs = append(record.UserIDs, userID)
	}
	if len(record.UserIDs) > domain.MultiAccountThreshold {
		record.Suspicious = true
	}
	if risk != nil {
		record.IsVPN = record.IsVPN || risk.IsVPN
		record.IsProxy = record.IsProxy || risk.IsProxy
		record.IsTor = record.IsTor || risk.IsTor
		record.RiskLevel = domain.MaxRisk(record.RiskLevel, risk.RiskLevel)
	}
	if record.RiskLevel == domain.RiskHigh {
		record.Suspicious = true
	}
	if record.IsVPN || record.IsProxy || record.IsTor {
		record.Suspicious = true
		record.Blocked = true
		record.BlockedUntil = now.Add(BlockDuration)
	}
	record.LastSeen = now

	r.saveIP(ctx, record)
}

// LookupDevice returns the device record, or nil when the device is
// unknown or every lookup path failed.
func (r *Registry) LookupDevice(ctx context.Context, fingerprint string) *domain.DeviceFingerprint {
	if fingerprint == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupDevice(ctx, fingerprint)
}

// LookupIP returns the address record, or nil when the address is
// unknown or every lookup path failed.
func (r *Registry) LookupIP(ctx context.Context, address string) *domain.IPRecord {
	if address == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupIP(ctx, address)
}

func (r *Registry) lookupDevice(ctx context.Context, fingerprint string) *domain.DeviceFingerprint {
	if data, err := r.cache.Get(ctx, devicePrefix+fingerprint); err == nil && data != nil {
		var device domain.DeviceFingerprint
		if err := json.Unmarshal(data, &device); err == nil {
			return &device
		}
		r.logger.Warn("discarding malformed cached device record", "fingerprint", fingerprint)
	}
	if r.store == nil {
		return nil
	}
	device, err := r.store.GetDeviceFingerprint(ctx, fingerprint)
	if err != nil || device == nil {
		return nil
	}
	return device
}

func (r *Registry) lookupIP(ctx context.Context, address string) *domain.IPRecord {
	if data, err := r.cache.Get(ctx, ipPrefix+address); err == nil && data != nil {
		var record domain.IPRecord
		if err := json.Unmarshal(data, &record); err == nil {
			return &record
		}
		r.logger.Warn("discarding malformed cached ip record", "address", address)
	}
	if r.store == nil {
		return nil
	}
	record, err := r.store.GetIPRecord(ctx, address)
	if err != nil || record == nil {
		return nil
	}
	return record
}

func (r *Registry) saveDevice(ctx context.Context, device *domain.DeviceFingerprint) {
	if data, err := json.Marshal(device); err == nil {
		if err := r.cache.Set(ctx, devicePrefix+device.Fingerprint, data, recordTTL); err != nil {
			r.logger.Warn("failed to cache device record", "fingerprint", device.Fingerprint, "error", err)
		}
	}
	if r.store == nil {
		return
	}
	if err := r.store.UpsertDeviceFingerprint(ctx, device); err != nil {
		r.logger.Warn("failed to persist device record", "fingerprint", device.Fingerprint, "error", err)
	}
}

func (r *Registry) saveIP(ctx context.Context, record *domain.IPRecord) {
	if data, err := json.Marshal(record); err == nil {
		if err := r.cache.Set(ctx, ipPrefix+record.Address, data, recordTTL); err != nil {
			r.logger.Warn("failed to cache ip record", "address", record.Address, "error", err)
		}
	}
	if r.store == nil {
		return
	}
	if err := r.store.UpsertIPRecord(ctx, record); err != nil {
		r.logger.Warn("failed to persist ip record", "address", record.Address, "error", err)
	}
}
