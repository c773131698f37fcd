package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the datastore ports. The DSN must
// include parseTime=true so TIMESTAMP columns scan into time.Time.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore creates a new MySQL store and ensures the schema exists
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	for _, stmt := range mysqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &MySQLStore{db: db, logger: logger}, nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS verdicts (
		tenant_id VARCHAR(64) NOT NULL,
		message_id VARCHAR(255) NOT NULL,
		class VARCHAR(16) NOT NULL,
		score DOUBLE,
		confidence DOUBLE,
		signals JSON,
		explanation TEXT,
		processing_time_ms BIGINT,
		created_at TIMESTAMP NULL,
		PRIMARY KEY (tenant_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS integrations (
		id VARCHAR(64) PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		provider VARCHAR(32) NOT NULL,
		email_address VARCHAR(255),
		access_token TEXT,
		refresh_token TEXT,
		token_expiry TIMESTAMP NULL,
		sync_cursor VARCHAR(255),
		status VARCHAR(16),
		subscription_id VARCHAR(255),
		client_state VARCHAR(255),
		emails_scanned BIGINT DEFAULT 0,
		threats_found BIGINT DEFAULT 0,
		updated_at TIMESTAMP NULL,
		UNIQUE KEY idx_tenant_provider (tenant_id, provider),
		KEY idx_subscription (provider, subscription_id)
	)`,
	`CREATE TABLE IF NOT EXISTS remediations (
		tenant_id VARCHAR(64) NOT NULL,
		message_id VARCHAR(255) NOT NULL,
		integration_id VARCHAR(64),
		provider_message_ref VARCHAR(255),
		state VARCHAR(16) NOT NULL,
		quarantined_at TIMESTAMP NULL,
		released_at TIMESTAMP NULL,
		released_by VARCHAR(255),
		reason TEXT,
		PRIMARY KEY (tenant_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS allowlist (
		tenant_id VARCHAR(64) NOT NULL,
		entry VARCHAR(255) NOT NULL,
		PRIMARY KEY (tenant_id, entry)
	)`,
}

// GetVerdict retrieves a verdict by (tenant, message)
func (s *MySQLStore) GetVerdict(ctx context.Context, tenantID, messageID string) (*core.Verdict, error) {
	var v core.Verdict
	var signals sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, message_id, class, score, confidence, signals,
		       explanation, processing_time_ms, created_at
		FROM verdicts
		WHERE tenant_id = ? AND message_id = ?
	`, tenantID, messageID).Scan(&v.TenantID, &v.MessageID, &v.Class, &v.Score,
		&v.Confidence, &signals, &v.Explanation, &v.ProcessingTimeMs, &v.CreatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query verdict: %w", err)
	}

	if signals.Valid && signals.String != "" {
		if err := json.Unmarshal([]byte(signals.String), &v.Signals); err != nil {
			return nil, fmt.Errorf("failed to decode verdict signals: %w", err)
		}
	}
	return &v, nil
}

// SaveVerdict stores a verdict; INSERT IGNORE makes a conflicting write a
// no-op
func (s *MySQLStore) SaveVerdict(ctx context.Context, verdict *core.Verdict) error {
	signals, err := json.Marshal(verdict.Signals)
	if err != nil {
		return fmt.Errorf("failed to encode verdict signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT IGNORE INTO verdicts
			(tenant_id, message_id, class, score, confidence, signals,
			 explanation, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, verdict.TenantID, verdict.MessageID, verdict.Class, verdict.Score,
		verdict.Confidence, string(signals), verdict.Explanation,
		verdict.ProcessingTimeMs, verdict.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}
	return nil
}

// GetIntegration retrieves an integration connection by id
func (s *MySQLStore) GetIntegration(ctx context.Context, id string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	return scanIntegration(row)
}

// FindByEmailAddress resolves an integration by provider and mailbox address
func (s *MySQLStore) FindByEmailAddress(ctx context.Context, provider, emailAddress string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations
		 WHERE provider = ? AND email_address = ?`,
		provider, emailAddress)
	return scanIntegration(row)
}

// FindBySubscription resolves an integration by provider and subscription id
func (s *MySQLStore) FindBySubscription(ctx context.Context, provider, subscriptionID string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations
		 WHERE provider = ? AND subscription_id = ?`,
		provider, subscriptionID)
	return scanIntegration(row)
}

// ListByProvider lists all integrations for a provider
func (s *MySQLStore) ListByProvider(ctx context.Context, provider string) ([]*core.IntegrationConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE provider = ?`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var conns []*core.IntegrationConnection
	for rows.Next() {
		var conn core.IntegrationConnection
		var tokenExpiry, updatedAt sql.NullTime
		if err := rows.Scan(&conn.ID, &conn.TenantID, &conn.Provider, &conn.EmailAddress,
			&conn.AccessToken, &conn.RefreshToken, &tokenExpiry, &conn.SyncCursor,
			&conn.Status, &conn.SubscriptionID, &conn.ClientState,
			&conn.EmailsScanned, &conn.ThreatsFound, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		if tokenExpiry.Valid {
			conn.TokenExpiry = tokenExpiry.Time
		}
		if updatedAt.Valid {
			conn.UpdatedAt = updatedAt.Time
		}
		conns = append(conns, &conn)
	}
	return conns, rows.Err()
}

// SaveIntegration creates or replaces an integration connection
func (s *MySQLStore) SaveIntegration(ctx context.Context, conn *core.IntegrationConnection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			email_address = VALUES(email_address),
			access_token = VALUES(access_token),
			refresh_token = VALUES(refresh_token),
			token_expiry = VALUES(token_expiry),
			sync_cursor = VALUES(sync_cursor),
			status = VALUES(status),
			subscription_id = VALUES(subscription_id),
			client_state = VALUES(client_state),
			updated_at = VALUES(updated_at)
	`, conn.ID, conn.TenantID, conn.Provider, conn.EmailAddress, conn.AccessToken,
		conn.RefreshToken, conn.TokenExpiry, conn.SyncCursor, conn.Status,
		conn.SubscriptionID, conn.ClientState, conn.EmailsScanned,
		conn.ThreatsFound, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}
	return nil
}

// UpdateCursor advances the stored sync cursor
func (s *MySQLStore) UpdateCursor(ctx context.Context, id, cursor string) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET sync_cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, time.Now(), id)
}

// UpdateCredentials persists a refreshed access token atomically with its
// expiry in a single statement
func (s *MySQLStore) UpdateCredentials(ctx context.Context, id, accessToken string, expiry int64) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET access_token = ?, token_expiry = ?, updated_at = ? WHERE id = ?`,
		accessToken, time.Unix(expiry, 0), time.Now(), id)
}

// UpdateStatus sets the connection status
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
}

// IncrementScanStats bumps per-mailbox scan counters
func (s *MySQLStore) IncrementScanStats(ctx context.Context, id string, scanned, threats int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE integrations
		 SET emails_scanned = emails_scanned + ?, threats_found = threats_found + ?
		 WHERE id = ?`,
		scanned, threats, id)
	if err != nil {
		return fmt.Errorf("failed to update scan stats for %s: %w", id, err)
	}
	return nil
}

func (s *MySQLStore) updateIntegration(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update integration %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		// MySQL also reports 0 when the row exists but nothing changed;
		// confirm absence before reporting not-found.
		if _, getErr := s.GetIntegration(ctx, id); getErr == core.ErrNotFound {
			return core.ErrNotFound
		}
	}
	return nil
}

// GetRemediation retrieves a remediation record by (tenant, message)
func (s *MySQLStore) GetRemediation(ctx context.Context, tenantID, messageID string) (*core.RemediationRecord, error) {
	var rec core.RemediationRecord
	var quarantinedAt, releasedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, message_id, integration_id, provider_message_ref,
		       state, quarantined_at, released_at, released_by, reason
		FROM remediations
		WHERE tenant_id = ? AND message_id = ?
	`, tenantID, messageID).Scan(&rec.TenantID, &rec.MessageID, &rec.IntegrationID,
		&rec.ProviderMessageRef, &rec.State, &quarantinedAt, &releasedAt,
		&rec.ReleasedBy, &rec.Reason)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query remediation record: %w", err)
	}
	if quarantinedAt.Valid {
		rec.QuarantinedAt = &quarantinedAt.Time
	}
	if releasedAt.Valid {
		rec.ReleasedAt = &releasedAt.Time
	}
	return &rec, nil
}

// SaveRemediation creates or replaces a remediation record
func (s *MySQLStore) SaveRemediation(ctx context.Context, record *core.RemediationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remediations
			(tenant_id, message_id, integration_id, provider_message_ref,
			 state, quarantined_at, released_at, released_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			quarantined_at = VALUES(quarantined_at),
			released_at = VALUES(released_at),
			released_by = VALUES(released_by),
			reason = VALUES(reason)
	`, record.TenantID, record.MessageID, record.IntegrationID,
		record.ProviderMessageRef, record.State, record.QuarantinedAt,
		record.ReleasedAt, record.ReleasedBy, record.Reason)
	if err != nil {
		return fmt.Errorf("failed to save remediation record: %w", err)
	}
	return nil
}

// AddAllowlistEntry adds a sender or domain to a tenant's allowlist
func (s *MySQLStore) AddAllowlistEntry(ctx context.Context, tenantID, entry string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO allowlist (tenant_id, entry) VALUES (?, ?)
	`, tenantID, strings.ToLower(strings.TrimSpace(entry)))
	if err != nil {
		return fmt.Errorf("failed to add allowlist entry: %w", err)
	}
	return nil
}

// IsAllowlisted reports whether a sender or its domain is allowlisted
func (s *MySQLStore) IsAllowlisted(ctx context.Context, tenantID, sender string) (bool, error) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	domain := utils.SenderDomain(sender)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM allowlist
		WHERE tenant_id = ? AND entry IN (?, ?)
	`, tenantID, sender, domain).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query allowlist: %w", err)
	}
	return count > 0, nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
