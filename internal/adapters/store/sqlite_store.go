package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the datastore ports
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite store and ensures the schema exists
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS verdicts (
		tenant_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		class TEXT NOT NULL,
		score REAL,
		confidence REAL,
		signals TEXT,
		explanation TEXT,
		processing_time_ms INTEGER,
		created_at TIMESTAMP,
		PRIMARY KEY (tenant_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS integrations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		email_address TEXT,
		access_token TEXT,
		refresh_token TEXT,
		token_expiry TIMESTAMP,
		sync_cursor TEXT,
		status TEXT,
		subscription_id TEXT,
		client_state TEXT,
		emails_scanned INTEGER DEFAULT 0,
		threats_found INTEGER DEFAULT 0,
		updated_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_integrations_tenant_provider
		ON integrations(tenant_id, provider)`,
	`CREATE TABLE IF NOT EXISTS remediations (
		tenant_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		integration_id TEXT,
		provider_message_ref TEXT,
		state TEXT NOT NULL,
		quarantined_at TIMESTAMP,
		released_at TIMESTAMP,
		released_by TEXT,
		reason TEXT,
		PRIMARY KEY (tenant_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS allowlist (
		tenant_id TEXT NOT NULL,
		entry TEXT NOT NULL,
		PRIMARY KEY (tenant_id, entry)
	)`,
}

// GetVerdict retrieves a verdict by (tenant, message); point lookup on the
// primary key
func (s *SQLiteStore) GetVerdict(ctx context.Context, tenantID, messageID string) (*core.Verdict, error) {
	var v core.Verdict
	var signals string

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

	if signals != "" {
		if err := json.Unmarshal([]byte(signals), &v.Signals); err != nil {
			return nil, fmt.Errorf("failed to decode verdict signals: %w", err)
		}
	}
	return &v, nil
}

// SaveVerdict stores a verdict; a conflicting (tenant, message) pair is a
// no-op so the write is idempotent
func (s *SQLiteStore) SaveVerdict(ctx context.Context, verdict *core.Verdict) error {
	signals, err := json.Marshal(verdict.Signals)
	if err != nil {
		return fmt.Errorf("failed to encode verdict signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO verdicts
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

func scanIntegration(row *sql.Row) (*core.IntegrationConnection, error) {
	var conn core.IntegrationConnection
	var tokenExpiry, updatedAt sql.NullTime

	err := row.Scan(&conn.ID, &conn.TenantID, &conn.Provider, &conn.EmailAddress,
		&conn.AccessToken, &conn.RefreshToken, &tokenExpiry, &conn.SyncCursor,
		&conn.Status, &conn.SubscriptionID, &conn.ClientState,
		&conn.EmailsScanned, &conn.ThreatsFound, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}
	if tokenExpiry.Valid {
		conn.TokenExpiry = tokenExpiry.Time
	}
	if updatedAt.Valid {
		conn.UpdatedAt = updatedAt.Time
	}
	return &conn, nil
}

const integrationColumns = `id, tenant_id, provider, email_address, access_token,
	refresh_token, token_expiry, sync_cursor, status, subscription_id,
	client_state, emails_scanned, threats_found, updated_at`

// GetIntegration retrieves an integration connection by id
func (s *SQLiteStore) GetIntegration(ctx context.Context, id string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	return scanIntegration(row)
}

// FindByEmailAddress resolves an integration by provider and mailbox address
func (s *SQLiteStore) FindByEmailAddress(ctx context.Context, provider, emailAddress string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations
		 WHERE provider = ? AND email_address = ? COLLATE NOCASE`,
		provider, emailAddress)
	return scanIntegration(row)
}

// FindBySubscription resolves an integration by provider and subscription id
func (s *SQLiteStore) FindBySubscription(ctx context.Context, provider, subscriptionID string) (*core.IntegrationConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations
		 WHERE provider = ? AND subscription_id = ?`,
		provider, subscriptionID)
	return scanIntegration(row)
}

// ListByProvider lists all integrations for a provider
func (s *SQLiteStore) ListByProvider(ctx context.Context, provider string) ([]*core.IntegrationConnection, error) {
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
func (s *SQLiteStore) SaveIntegration(ctx context.Context, conn *core.IntegrationConnection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *SQLiteStore) UpdateCursor(ctx context.Context, id, cursor string) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET sync_cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, time.Now(), id)
}

// UpdateCredentials persists a refreshed access token atomically with its
// expiry
func (s *SQLiteStore) UpdateCredentials(ctx context.Context, id, accessToken string, expiry int64) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET access_token = ?, token_expiry = ?, updated_at = ? WHERE id = ?`,
		accessToken, time.Unix(expiry, 0), time.Now(), id)
}

// UpdateStatus sets the connection status
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
}

// IncrementScanStats bumps per-mailbox scan counters
func (s *SQLiteStore) IncrementScanStats(ctx context.Context, id string, scanned, threats int64) error {
	return s.updateIntegration(ctx, id,
		`UPDATE integrations
		 SET emails_scanned = emails_scanned + ?, threats_found = threats_found + ?
		 WHERE id = ?`,
		scanned, threats, id)
}

func (s *SQLiteStore) updateIntegration(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update integration %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GetRemediation retrieves a remediation record by (tenant, message)
func (s *SQLiteStore) GetRemediation(ctx context.Context, tenantID, messageID string) (*core.RemediationRecord, error) {
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
func (s *SQLiteStore) SaveRemediation(ctx context.Context, record *core.RemediationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO remediations
			(tenant_id, message_id, integration_id, provider_message_ref,
			 state, quarantined_at, released_at, released_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.TenantID, record.MessageID, record.IntegrationID,
		record.ProviderMessageRef, record.State, record.QuarantinedAt,
		record.ReleasedAt, record.ReleasedBy, record.Reason)
	if err != nil {
		return fmt.Errorf("failed to save remediation record: %w", err)
	}
	return nil
}

// AddAllowlistEntry adds a sender or domain to a tenant's allowlist
func (s *SQLiteStore) AddAllowlistEntry(ctx context.Context, tenantID, entry string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO allowlist (tenant_id, entry) VALUES (?, ?)
	`, tenantID, strings.ToLower(strings.TrimSpace(entry)))
	if err != nil {
		return fmt.Errorf("failed to add allowlist entry: %w", err)
	}
	return nil
}

// IsAllowlisted reports whether a sender or its domain is allowlisted
func (s *SQLiteStore) IsAllowlisted(ctx context.Context, tenantID, sender string) (bool, error) {
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
