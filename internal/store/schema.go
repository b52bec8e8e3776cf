package store

// Schema definitions for the Warden database.
// Compatible with both SQLite and PostgreSQL.

const schemaActionRecords = `
CREATE TABLE IF NOT EXISTS action_records (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id TEXT,
    type TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    device_id TEXT,
    ip_address TEXT,
    user_agent TEXT,
    payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_action_records_user ON action_records(user_id);
CREATE INDEX IF NOT EXISTS idx_action_records_timestamp ON action_records(timestamp);
`

const schemaSuspiciousActivities = `
CREATE TABLE IF NOT EXISTS suspicious_activities (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    game_id TEXT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    reason TEXT NOT NULL,
    confidence REAL NOT NULL,
    device_id TEXT,
    ip_address TEXT,
    blocked INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    details TEXT
);

CREATE INDEX IF NOT EXISTS idx_suspicious_user ON suspicious_activities(user_id);
CREATE INDEX IF NOT EXISTS idx_suspicious_type ON suspicious_activities(type);
CREATE INDEX IF NOT EXISTS idx_suspicious_timestamp ON suspicious_activities(timestamp);
`

const schemaDeviceFingerprints = `
CREATE TABLE IF NOT EXISTS device_fingerprints (
    fingerprint TEXT PRIMARY KEY,
    user_ids TEXT NOT NULL,
    suspicious INTEGER NOT NULL DEFAULT 0,
    blocked INTEGER NOT NULL DEFAULT 0,
    last_seen TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_devices_suspicious ON device_fingerprints(suspicious);
`

const schemaIPRecords = `
CREATE TABLE IF NOT EXISTS ip_records (
    address TEXT PRIMARY KEY,
    user_ids TEXT NOT NULL,
    is_vpn INTEGER NOT NULL DEFAULT 0,
    is_proxy INTEGER NOT NULL DEFAULT 0,
    is_tor INTEGER NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'low',
    suspicious INTEGER NOT NULL DEFAULT 0,
    blocked INTEGER NOT NULL DEFAULT 0,
    blocked_until TIMESTAMP,
    last_seen TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ips_blocked ON ip_records(blocked);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    confidence REAL NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaActionRecords,
		schemaSuspiciousActivities,
		schemaDeviceFingerprints,
		schemaIPRecords,
		schemaCustomRules,
	}
}
