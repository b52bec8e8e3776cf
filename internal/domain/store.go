// Package domain defines the core interfaces and types for Warden.
package domain

import (
	"context"
	"time"
)

// Store defines the record store gateway for durable fraud data.
// Every write is best effort from the engine's point of view: a failure
// degrades to skip-persistence and never changes a block/allow decision.
type Store interface {
	// Action ledger archive
	SaveActionRecord(ctx context.Context, record *ActionRecord) error
	PruneActionRecords(ctx context.Context, cutoff time.Time) (int64, error)

	// Suspicious activity audit trail (append-only)
	SaveSuspiciousActivity(ctx context.Context, activity *SuspiciousActivity) error
	ListSuspiciousActivities(ctx context.Context, userID string, limit int) ([]*SuspiciousActivity, error)

	// Reputation registries
	UpsertDeviceFingerprint(ctx context.Context, device *DeviceFingerprint) error
	GetDeviceFingerprint(ctx context.Context, fingerprint string) (*DeviceFingerprint, error)
	UpsertIPRecord(ctx context.Context, record *IPRecord) error
	GetIPRecord(ctx context.Context, address string) (*IPRecord, error)

	// Custom rule configuration
	SaveCustomRule(ctx context.Context, rule *CustomRule) error
	GetCustomRule(ctx context.Context, ruleID string) (*CustomRule, error)
	ListCustomRules(ctx context.Context) ([]*CustomRule, error)

	// Availability probe
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
