package core

import (
	"time"
)

// Email represents a parsed email message fetched from a provider mailbox
type Email struct {
	MessageID  string
	From       string
	To         []string
	Subject    string
	Body       string
	Headers    map[string][]string
	ReceivedAt time.Time
}

// VerdictClass classifies the overall risk of a message
type VerdictClass string

const (
	VerdictPass       VerdictClass = "pass"
	VerdictSuspicious VerdictClass = "suspicious"
	VerdictQuarantine VerdictClass = "quarantine"
	VerdictBlock      VerdictClass = "block"
)

// IsThreat reports whether the verdict requires remediation
func (v VerdictClass) IsThreat() bool {
	return v == VerdictQuarantine || v == VerdictBlock
}

// Severity grades an individual detection signal
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Signal represents one piece of evidence contributing to a verdict
type Signal struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Verdict represents the pipeline's risk classification for one message.
// A verdict is created exactly once per (tenant, message) and is immutable
// once written; remediation status lives on the RemediationRecord.
type Verdict struct {
	TenantID         string       `json:"tenant_id"`
	MessageID        string       `json:"message_id"`
	Class            VerdictClass `json:"class"`
	Score            float64      `json:"score"`      // 0-100
	Confidence       float64      `json:"confidence"` // 0-1
	Signals          []Signal     `json:"signals"`
	Explanation      string       `json:"explanation"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	CreatedAt        time.Time    `json:"created_at"`
}

// WorkItem represents one queued unit of new-message processing derived
// from a single notification diff. The refs are chunked at enqueue time so
// a single item never exceeds the per-job message cap.
type WorkItem struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	IntegrationID       string    `json:"integration_id"`
	ProviderMessageRefs []string  `json:"provider_message_refs"`
	SyncCursorAtEnqueue string    `json:"sync_cursor_at_enqueue"`
	Attempts            int       `json:"attempts"`
	EnqueuedAt          time.Time `json:"enqueued_at"`
	LastError           string    `json:"last_error,omitempty"`
}

// ConnectionStatus describes the health of a provider integration
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusRevoked      ConnectionStatus = "revoked"
)

// Provider identifiers for the closed set of ingestion variants
const (
	ProviderGmail           = "gmail"
	ProviderMSGraph         = "msgraph"
	ProviderGmailDomainWide = "gmail-dw"
)

// IntegrationConnection represents one (tenant, provider) mailbox
// integration. At most one active connection exists per pair. The gateway
// mutates credentials and the sync cursor; the worker advances the cursor
// only after a batch fully succeeds.
type IntegrationConnection struct {
	ID             string
	TenantID       string
	Provider       string
	EmailAddress   string
	AccessToken    string
	RefreshToken   string
	TokenExpiry    time.Time
	SyncCursor     string
	Status         ConnectionStatus
	SubscriptionID string
	ClientState    string
	EmailsScanned  int64
	ThreatsFound   int64
	UpdatedAt      time.Time
}

// CredentialsExpiring reports whether the access token is expired or will
// expire within the given window
func (c *IntegrationConnection) CredentialsExpiring(window time.Duration) bool {
	if c.TokenExpiry.IsZero() {
		return false
	}
	return time.Now().Add(window).After(c.TokenExpiry)
}

// RemediationState tracks where a message sits in its remediation lifecycle
type RemediationState string

const (
	RemediationActive        RemediationState = "active"
	RemediationQuarantined   RemediationState = "quarantined"
	RemediationReleased      RemediationState = "released"
	RemediationDeleted       RemediationState = "deleted"
	RemediationFalsePositive RemediationState = "false_positive"
)

// IsTerminal reports whether no further transitions are allowed
func (s RemediationState) IsTerminal() bool {
	return s == RemediationReleased || s == RemediationDeleted || s == RemediationFalsePositive
}

// RemediationRecord tracks a message's remediation lifecycle. Transitions
// happen only through the remediation engine.
type RemediationRecord struct {
	TenantID           string
	MessageID          string
	IntegrationID      string
	ProviderMessageRef string
	State              RemediationState
	QuarantinedAt      *time.Time
	ReleasedAt         *time.Time
	ReleasedBy         string
	Reason             string
}

// IntelType namespaces threat-intelligence cache entries
type IntelType string

const (
	IntelURL    IntelType = "url"
	IntelDomain IntelType = "domain"
	IntelIP     IntelType = "ip"
)

// Reputation represents a reputation source's classification of a URL,
// domain or IP address
type Reputation struct {
	Subject    string    `json:"subject"`
	Malicious  bool      `json:"malicious"`
	Score      float64   `json:"score"` // 0-100
	Categories []string  `json:"categories,omitempty"`
	Source     string    `json:"source"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Notification represents a provider-native change notification normalized
// by a provider adapter. Which resolution identifier is set depends on the
// provider family.
type Notification struct {
	Provider        string
	EmailAddress    string
	SubscriptionID  string
	ClientState     string
	Cursor          string
	ValidationToken string // set for a one-time validation handshake
}

// QueueStats summarizes the durable queue for operator inspection
type QueueStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}
