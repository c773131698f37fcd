package core

import (
	"context"
)

// AnalyzeOptions tunes a single pipeline invocation
type AnalyzeOptions struct {
	// SkipDeepAnalysis degrades to fast rules-only scoring under time
	// pressure; it is a graceful degradation, not an error
	SkipDeepAnalysis bool
}

// Analyzer defines the detection pipeline contract. Implementations must
// consult the threat-intel cache before issuing external reputation calls
// and populate it on miss.
type Analyzer interface {
	Analyze(ctx context.Context, tenantID string, email *Email, opts AnalyzeOptions) (*Verdict, error)
}

// VerdictStore persists verdicts idempotently per (tenant, message)
type VerdictStore interface {
	// GetVerdict is a point lookup; returns ErrNotFound when absent
	GetVerdict(ctx context.Context, tenantID, messageID string) (*Verdict, error)

	// SaveVerdict writes a verdict; a conflicting write for an existing
	// (tenant, message) pair is a silent no-op
	SaveVerdict(ctx context.Context, verdict *Verdict) error
}

// IntegrationStore persists provider integration connections
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*IntegrationConnection, error)
	FindByEmailAddress(ctx context.Context, provider, emailAddress string) (*IntegrationConnection, error)
	FindBySubscription(ctx context.Context, provider, subscriptionID string) (*IntegrationConnection, error)
	ListByProvider(ctx context.Context, provider string) ([]*IntegrationConnection, error)
	SaveIntegration(ctx context.Context, conn *IntegrationConnection) error

	// UpdateCursor advances the stored sync cursor; called only after a
	// work item's batch fully succeeds
	UpdateCursor(ctx context.Context, id, cursor string) error

	// UpdateCredentials persists a refreshed token atomically with its expiry
	UpdateCredentials(ctx context.Context, id, accessToken string, expiry int64) error

	UpdateStatus(ctx context.Context, id string, status ConnectionStatus) error

	// IncrementScanStats bumps the per-mailbox counters used by the
	// domain-wide variant
	IncrementScanStats(ctx context.Context, id string, scanned, threats int64) error
}

// RemediationStore persists remediation records
type RemediationStore interface {
	GetRemediation(ctx context.Context, tenantID, messageID string) (*RemediationRecord, error)
	SaveRemediation(ctx context.Context, record *RemediationRecord) error
}

// AllowlistStore persists tenant sender/domain allowlists
type AllowlistStore interface {
	AddAllowlistEntry(ctx context.Context, tenantID, entry string) error
	IsAllowlisted(ctx context.Context, tenantID, sender string) (bool, error)
}

// WorkQueue is the durable FIFO queue decoupling notification receipt from
// processing. Pop semantics deliver each item to at most one concurrent
// popper, though redelivery across pops is possible.
type WorkQueue interface {
	Enqueue(ctx context.Context, item *WorkItem) error

	// Dequeue atomically pops up to n items from the head
	Dequeue(ctx context.Context, n int) ([]*WorkItem, error)

	// Requeue puts an item back at the tail for another attempt
	Requeue(ctx context.Context, item *WorkItem) error

	// DeadLetter moves an item to the dead-letter list with a reason
	DeadLetter(ctx context.Context, item *WorkItem, reason string) error

	// DeadLetters returns up to limit dead-lettered items for inspection
	DeadLetters(ctx context.Context, limit int) ([]*WorkItem, error)

	Stats(ctx context.Context) (*QueueStats, error)
}

// MailProvider isolates provider protocol differences behind one contract.
// All methods take the integration connection so adapters can use its
// credentials; adapters refresh and persist expired tokens themselves.
type MailProvider interface {
	Name() string

	// ParseNotification normalizes a raw webhook payload; a handshake
	// challenge is returned via Notification.ValidationToken, not an error
	ParseNotification(payload []byte) (*Notification, error)

	// DiffSince lists message refs added since the given cursor and
	// returns the provider's current cursor
	DiffSince(ctx context.Context, conn *IntegrationConnection, cursor string) (refs []string, next string, err error)

	// FetchMessage retrieves and parses the full message
	FetchMessage(ctx context.Context, conn *IntegrationConnection, ref string) (*Email, error)

	// Quarantine moves the message to the quarantine location
	Quarantine(ctx context.Context, conn *IntegrationConnection, ref string) error

	// Restore returns a quarantined message to its original location
	Restore(ctx context.Context, conn *IntegrationConnection, ref string) error

	// Delete permanently removes the message from quarantine
	Delete(ctx context.Context, conn *IntegrationConnection, ref string) error

	// RefreshCredentials exchanges the refresh token for a new access
	// token, returning the token and its expiry
	RefreshCredentials(ctx context.Context, conn *IntegrationConnection) (accessToken string, expiry int64, err error)
}

// ReputationSource is an external service classifying URLs, domains and IPs.
// Called only on cache miss.
type ReputationSource interface {
	Lookup(ctx context.Context, kind IntelType, subject string) (*Reputation, error)
}

// Notifier delivers side-effect notifications to out-of-scope channels.
// Failures must never fail the core operation that triggered them.
type Notifier interface {
	NotifyThreat(ctx context.Context, verdict *Verdict, record *RemediationRecord) error
	NotifyRemediation(ctx context.Context, record *RemediationRecord, action string) error
	NotifySyncComplete(ctx context.Context, tenantID, integrationID string, processed, threats int) error
}
