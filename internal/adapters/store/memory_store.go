package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the datastore ports, used
// for development and tests. Verdict writes are conflict-as-no-op, matching
// the SQL backends.
type MemoryStore struct {
	mu           sync.RWMutex
	verdicts     map[string]*core.Verdict
	integrations map[string]*core.IntegrationConnection
	remediations map[string]*core.RemediationRecord
	allowlists   map[string]map[string]bool
	logger       *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		verdicts:     make(map[string]*core.Verdict),
		integrations: make(map[string]*core.IntegrationConnection),
		remediations: make(map[string]*core.RemediationRecord),
		allowlists:   make(map[string]map[string]bool),
		logger:       logger,
	}
}

func messageKey(tenantID, messageID string) string {
	return tenantID + "/" + messageID
}

// GetVerdict retrieves a verdict by (tenant, message)
func (s *MemoryStore) GetVerdict(ctx context.Context, tenantID, messageID string) (*core.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.verdicts[messageKey(tenantID, messageID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

// SaveVerdict stores a verdict; an existing verdict for the same key is
// left untouched
func (s *MemoryStore) SaveVerdict(ctx context.Context, verdict *core.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey(verdict.TenantID, verdict.MessageID)
	if _, exists := s.verdicts[key]; exists {
		return nil
	}
	copied := *verdict
	s.verdicts[key] = &copied
	return nil
}

// GetIntegration retrieves an integration connection by id
func (s *MemoryStore) GetIntegration(ctx context.Context, id string) (*core.IntegrationConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.integrations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

// FindByEmailAddress resolves an integration by provider and mailbox address
func (s *MemoryStore) FindByEmailAddress(ctx context.Context, provider, emailAddress string) (*core.IntegrationConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.integrations {
		if conn.Provider == provider && strings.EqualFold(conn.EmailAddress, emailAddress) {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

// FindBySubscription resolves an integration by provider and subscription id
func (s *MemoryStore) FindBySubscription(ctx context.Context, provider, subscriptionID string) (*core.IntegrationConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.integrations {
		if conn.Provider == provider && conn.SubscriptionID == subscriptionID {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

// ListByProvider lists all integrations for a provider
func (s *MemoryStore) ListByProvider(ctx context.Context, provider string) ([]*core.IntegrationConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conns []*core.IntegrationConnection
	for _, conn := range s.integrations {
		if conn.Provider == provider {
			copied := *conn
			conns = append(conns, &copied)
		}
	}
	return conns, nil
}

// SaveIntegration creates or replaces an integration connection
func (s *MemoryStore) SaveIntegration(ctx context.Context, conn *core.IntegrationConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *conn
	copied.UpdatedAt = time.Now()
	s.integrations[conn.ID] = &copied
	return nil
}

// UpdateCursor advances the stored sync cursor
func (s *MemoryStore) UpdateCursor(ctx context.Context, id, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.integrations[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.SyncCursor = cursor
	conn.UpdatedAt = time.Now()
	return nil
}

// UpdateCredentials persists a refreshed access token and its expiry
func (s *MemoryStore) UpdateCredentials(ctx context.Context, id, accessToken string, expiry int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.integrations[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.AccessToken = accessToken
	conn.TokenExpiry = time.Unix(expiry, 0)
	conn.UpdatedAt = time.Now()
	return nil
}

// UpdateStatus sets the connection status
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.integrations[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.Status = status
	conn.UpdatedAt = time.Now()
	return nil
}

// IncrementScanStats bumps per-mailbox scan counters
func (s *MemoryStore) IncrementScanStats(ctx context.Context, id string, scanned, threats int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.integrations[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.EmailsScanned += scanned
	conn.ThreatsFound += threats
	return nil
}

// GetRemediation retrieves a remediation record by (tenant, message)
func (s *MemoryStore) GetRemediation(ctx context.Context, tenantID, messageID string) (*core.RemediationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.remediations[messageKey(tenantID, messageID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// SaveRemediation creates or replaces a remediation record
func (s *MemoryStore) SaveRemediation(ctx context.Context, record *core.RemediationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.remediations[messageKey(record.TenantID, record.MessageID)] = &copied
	return nil
}

// AddAllowlistEntry adds a sender or domain to a tenant's allowlist
func (s *MemoryStore) AddAllowlistEntry(ctx context.Context, tenantID, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.allowlists[tenantID]
	if !ok {
		entries = make(map[string]bool)
		s.allowlists[tenantID] = entries
	}
	entries[strings.ToLower(strings.TrimSpace(entry))] = true
	return nil
}

// IsAllowlisted reports whether a sender address or its domain is
// allowlisted for the tenant
func (s *MemoryStore) IsAllowlisted(ctx context.Context, tenantID, sender string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.allowlists[tenantID]
	if !ok {
		return false, nil
	}
	sender = strings.ToLower(strings.TrimSpace(sender))
	if entries[sender] {
		return true, nil
	}
	if domain := utils.SenderDomain(sender); domain != "" && entries[domain] {
		return true, nil
	}
	return false, nil
}
