// Package store provides the durable record store behind the fraud engine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/luminex/warden/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveActionRecord archives a gameplay action.
func (s *SQLStore) SaveActionRecord(ctx context.Context, record *domain.ActionRecord) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	payload, _ := json.Marshal(record.Payload)

	query := `
		INSERT INTO action_records (
			id, user_id, game_id, type, timestamp,
			device_id, ip_address, user_agent, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		uuid.New().String(), record.UserID, record.GameID, record.Type,
		record.Timestamp, record.DeviceID, record.IPAddress,
		record.UserAgent, string(payload),
	)
	return err
}

// PruneActionRecords deletes archived actions older than the cutoff and
// returns the number of rows removed.
func (s *SQLStore) PruneActionRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM action_records WHERE timestamp < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveSuspiciousActivity appends an audit fact. The row is never updated.
func (s *SQLStore) SaveSuspiciousActivity(ctx context.Context, activity *domain.SuspiciousActivity) error {
	if activity == nil || activity.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	id := activity.ID
	if id == "" {
		id = uuid.New().String()
	}

	details, _ := json.Marshal(activity.Details)

	query := `
		INSERT INTO suspicious_activities (
			id, user_id, game_id, type, severity, reason, confidence,
			device_id, ip_address, blocked, timestamp, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		id, activity.UserID, activity.GameID, activity.Type,
		string(activity.Severity), activity.Reason, activity.Confidence,
		activity.DeviceID, activity.IPAddress, boolToInt(activity.Blocked),
		activity.Timestamp, string(details),
	)
	return err
}

// ListSuspiciousActivities returns the most recent audit facts for a user.
func (s *SQLStore) ListSuspiciousActivities(ctx context.Context, userID string, limit int) ([]*domain.SuspiciousActivity, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, game_id, type, severity, reason, confidence,
			   device_id, ip_address, blocked, timestamp, details
		FROM suspicious_activities
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), domain.NormalizeUserID(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*domain.SuspiciousActivity
	for rows.Next() {
		var a domain.SuspiciousActivity
		var severity, details string
		var blocked int

		if err := rows.Scan(
			&a.ID, &a.UserID, &a.GameID, &a.Type, &severity, &a.Reason,
			&a.Confidence, &a.DeviceID, &a.IPAddress, &blocked,
			&a.Timestamp, &details,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.Severity(severity)
		a.Blocked = blocked == 1
		if details != "" {
			json.Unmarshal([]byte(details), &a.Details)
		}
		activities = append(activities, &a)
	}

	return activities, rows.Err()
}

// UpsertDeviceFingerprint stores the merged state of a device record.
func (s *SQLStore) UpsertDeviceFingerprint(ctx context.Context, device *domain.DeviceFingerprint) error {
	if device == nil || device.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	userIDs, _ := json.Marshal(device.UserIDs)
	metadata, _ := json.Marshal(device.Metadata)

	query := `
		INSERT INTO device_fingerprints (
			fingerprint, user_ids, suspicious, blocked, last_seen, metadata
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			user_ids = excluded.user_ids,
			suspicious = excluded.suspicious,
			blocked = excluded.blocked,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		device.Fingerprint, string(userIDs),
		boolToInt(device.Suspicious), boolToInt(device.Blocked),
		device.LastSeen, string(metadata),
	)
	return err
}

// GetDeviceFingerprint retrieves a device record by fingerprint.
func (s *SQLStore) GetDeviceFingerprint(ctx context.Context, fingerprint string) (*domain.DeviceFingerprint, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	query := `
		SELECT fingerprint, user_ids, suspicious, blocked, last_seen, metadata
		FROM device_fingerprints
		WHERE fingerprint = ?
	`

	var d domain.DeviceFingerprint
	var userIDs, metadata string
	var suspicious, blocked int

	err := s.db.QueryRowContext(ctx, s.rebind(query), fingerprint).Scan(
		&d.Fingerprint, &userIDs, &suspicious, &blocked, &d.LastSeen, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Suspicious = suspicious == 1
	d.Blocked = blocked == 1
	json.Unmarshal([]byte(userIDs), &d.UserIDs)
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &d.Metadata)
	}

	return &d, nil
}

// UpsertIPRecord stores the merged state of a network address record.
func (s *SQLStore) UpsertIPRecord(ctx context.Context, record *domain.IPRecord) error {
	if record == nil || record.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	userIDs, _ := json.Marshal(record.UserIDs)

	query := `
		INSERT INTO ip_records (
			address, user_ids, is_vpn, is_proxy, is_tor, risk_level,
			suspicious, blocked, blocked_until, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			user_ids = excluded.user_ids,
			is_vpn = excluded.is_vpn,
			is_proxy = excluded.is_proxy,
			is_tor = excluded.is_tor,
			risk_level = excluded.risk_level,
			suspicious = excluded.suspicious,
			blocked = excluded.blocked,
			blocked_until = excluded.blocked_until,
			last_seen = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		record.Address, string(userIDs),
		boolToInt(record.IsVPN), boolToInt(record.IsProxy), boolToInt(record.IsTor),
		string(record.RiskLevel), boolToInt(record.Suspicious), boolToInt(record.Blocked),
		record.BlockedUntil, record.LastSeen,
	)
	return err
}

// GetIPRecord retrieves a network address record.
func (s *SQLStore) GetIPRecord(ctx context.Context, address string) (*domain.IPRecord, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	query := `
		SELECT address, user_ids, is_vpn, is_proxy, is_tor, risk_level,
			   suspicious, blocked, blocked_until, last_seen
		FROM ip_records
		WHERE address = ?
	`

	var r domain.IPRecord
	var userIDs, riskLevel string
	var isVPN, isProxy, isTor, suspicious, blocked int
	var blockedUntil sql.NullTime

	err := s.db.QueryRowContext(ctx, s.rebind(query), address).Scan(
		&r.Address, &userIDs, &isVPN, &isProxy, &isTor, &riskLevel,
		&suspicious, &blocked, &blockedUntil, &r.LastSeen,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.IsVPN = isVPN == 1
	r.IsProxy = isProxy == 1
	r.IsTor = isTor == 1
	r.RiskLevel = domain.RiskLevel(riskLevel)
	r.Suspicious = suspicious == 1
	r.Blocked = blocked == 1
	if blockedUntil.Valid {
		r.BlockedUntil = blockedUntil.Time
	}
	json.Unmarshal([]byte(userIDs), &r.UserIDs)

	return &r, nil
}

// SaveCustomRule stores a custom rule configuration.
func (s *SQLStore) SaveCustomRule(ctx context.Context, rule *domain.CustomRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, name, description, version, expression, confidence, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			confidence = excluded.confidence,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Confidence, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetCustomRule retrieves the latest enabled version of a custom rule.
func (s *SQLStore) GetCustomRule(ctx context.Context, ruleID string) (*domain.CustomRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, version, expression, confidence, reason, enabled
		FROM custom_rules
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.CustomRule
	var enabled int

	err := s.db.QueryRowContext(ctx, s.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Version,
		&rule.Expression, &rule.Confidence, &rule.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListCustomRules retrieves all enabled custom rules.
func (s *SQLStore) ListCustomRules(ctx context.Context) ([]*domain.CustomRule, error) {
	query := `
		SELECT id, name, description, version, expression, confidence, reason, enabled
		FROM custom_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRule
	for rows.Next() {
		var rule domain.CustomRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Version,
			&rule.Expression, &rule.Confidence, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping is the availability probe consulted before persistence attempts.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
