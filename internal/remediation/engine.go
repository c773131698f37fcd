package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"go.uber.org/zap"
)

// Result reports the outcome of a remediation action. Success with an
// unchanged state means the action was an idempotent no-op.
type Result struct {
	Success bool                  `json:"success"`
	State   core.RemediationState `json:"state"`
	Reason  string                `json:"reason,omitempty"`
}

// Engine owns the remediation state machine. All state transitions happen
// here; the provider operation is confirmed before the record advances, so
// a provider failure leaves the record where it was.
type Engine struct {
	records      core.RemediationStore
	integrations core.IntegrationStore
	allowlist    core.AllowlistStore
	providers    map[string]core.MailProvider
	notifier     core.Notifier
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewEngine creates a new remediation engine
func NewEngine(
	records core.RemediationStore,
	integrations core.IntegrationStore,
	allowlist core.AllowlistStore,
	providers map[string]core.MailProvider,
	notifier core.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		records:      records,
		integrations: integrations,
		allowlist:    allowlist,
		providers:    providers,
		notifier:     notifier,
		metrics:      m,
		logger:       logger,
	}
}

// Quarantine moves a flagged message into the provider's quarantine
// location and records the transition. Re-quarantining an already
// quarantined message is a no-op; a message in a terminal state is left
// alone.
func (e *Engine) Quarantine(ctx context.Context, conn *core.IntegrationConnection, verdict *core.Verdict, ref string) (*Result, error) {
	record, err := e.records.GetRemediation(ctx, verdict.TenantID, verdict.MessageID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to load remediation record: %w", err)
	}

	if record != nil {
		if record.State == core.RemediationQuarantined {
			return &Result{Success: true, State: record.State, Reason: "already quarantined"}, nil
		}
		if record.State.IsTerminal() {
			return &Result{Success: false, State: record.State, Reason: "message is in a terminal state"}, nil
		}
	} else {
		record = &core.RemediationRecord{
			TenantID:           verdict.TenantID,
			MessageID:          verdict.MessageID,
			IntegrationID:      conn.ID,
			ProviderMessageRef: ref,
			State:              core.RemediationActive,
		}
	}

	provider, err := e.providerFor(conn)
	if err != nil {
		return nil, err
	}
	if err := provider.Quarantine(ctx, conn, record.ProviderMessageRef); err != nil {
		return nil, fmt.Errorf("provider quarantine failed: %w", err)
	}

	now := time.Now()
	record.State = core.RemediationQuarantined
	record.QuarantinedAt = &now
	record.Reason = string(verdict.Class)
	if err := e.records.SaveRemediation(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save remediation record: %w", err)
	}

	e.metrics.RemediationActions.WithLabelValues("quarantine").Inc()
	e.notify(ctx, func(ctx context.Context) error {
		return e.notifier.NotifyThreat(ctx, verdict, record)
	})
	e.logger.Info("Message quarantined",
		zap.String("tenant_id", record.TenantID),
		zap.String("message_id", record.MessageID),
		zap.String("class", string(verdict.Class)))
	return &Result{Success: true, State: record.State}, nil
}

// Release restores a quarantined message to its original location.
// Releasing an already released message is a no-op; releasing a message
// that was never quarantined succeeds without touching the provider.
func (e *Engine) Release(ctx context.Context, tenantID, messageID, actor string) (*Result, error) {
	return e.restoreTransition(ctx, tenantID, messageID, actor, core.RemediationReleased, "release", "", "")
}

// MarkFalsePositive releases the message and records the verdict as wrong,
// keeping the reviewer's reason on the record for audit. When allowSender is
// non-empty, it is added to the tenant's allowlist so future mail from that
// sender passes without deep analysis.
func (e *Engine) MarkFalsePositive(ctx context.Context, tenantID, messageID, actor, reason, allowSender string) (*Result, error) {
	return e.restoreTransition(ctx, tenantID, messageID, actor, core.RemediationFalsePositive, "false_positive", reason, allowSender)
}

// Delete permanently removes a quarantined message from the mailbox
func (e *Engine) Delete(ctx context.Context, tenantID, messageID, actor string) (*Result, error) {
	record, err := e.records.GetRemediation(ctx, tenantID, messageID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return &Result{Success: false, Reason: "no remediation record"}, nil
		}
		return nil, fmt.Errorf("failed to load remediation record: %w", err)
	}

	if record.State == core.RemediationDeleted {
		return &Result{Success: true, State: record.State, Reason: "already deleted"}, nil
	}
	if record.State.IsTerminal() {
		return &Result{Success: false, State: record.State, Reason: "message is in a terminal state"}, nil
	}

	conn, provider, err := e.connectionFor(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := provider.Delete(ctx, conn, record.ProviderMessageRef); err != nil {
		return nil, fmt.Errorf("provider delete failed: %w", err)
	}

	record.State = core.RemediationDeleted
	record.ReleasedBy = actor
	if err := e.records.SaveRemediation(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save remediation record: %w", err)
	}

	e.metrics.RemediationActions.WithLabelValues("delete").Inc()
	e.notify(ctx, func(ctx context.Context) error {
		return e.notifier.NotifyRemediation(ctx, record, "delete")
	})
	e.logger.Info("Message deleted",
		zap.String("tenant_id", tenantID),
		zap.String("message_id", messageID),
		zap.String("actor", actor))
	return &Result{Success: true, State: record.State}, nil
}

func (e *Engine) restoreTransition(ctx context.Context, tenantID, messageID, actor string, target core.RemediationState, action, reason, allowSender string) (*Result, error) {
	record, err := e.records.GetRemediation(ctx, tenantID, messageID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// No record means the message was never quarantined; there
			// is nothing to restore.
			return &Result{Success: true, State: core.RemediationActive, Reason: "not quarantined"}, nil
		}
		return nil, fmt.Errorf("failed to load remediation record: %w", err)
	}

	if record.State == target {
		return &Result{Success: true, State: record.State, Reason: "already " + string(target)}, nil
	}
	if record.State.IsTerminal() {
		return &Result{Success: false, State: record.State, Reason: "message is in a terminal state"}, nil
	}

	// A message that was never quarantined needs no provider restore.
	if record.State == core.RemediationQuarantined {
		conn, provider, err := e.connectionFor(ctx, record)
		if err != nil {
			return nil, err
		}
		if err := provider.Restore(ctx, conn, record.ProviderMessageRef); err != nil {
			return nil, fmt.Errorf("provider restore failed: %w", err)
		}
	}

	now := time.Now()
	record.State = target
	record.ReleasedAt = &now
	record.ReleasedBy = actor
	if reason != "" {
		record.Reason = reason
	}
	if err := e.records.SaveRemediation(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save remediation record: %w", err)
	}

	if allowSender != "" {
		if err := e.allowlist.AddAllowlistEntry(ctx, tenantID, allowSender); err != nil {
			e.logger.Error("Failed to add allowlist entry",
				zap.String("tenant_id", tenantID),
				zap.String("entry", allowSender),
				zap.Error(err))
		}
	}

	e.metrics.RemediationActions.WithLabelValues(action).Inc()
	e.notify(ctx, func(ctx context.Context) error {
		return e.notifier.NotifyRemediation(ctx, record, action)
	})
	e.logger.Info("Message restored",
		zap.String("tenant_id", tenantID),
		zap.String("message_id", messageID),
		zap.String("action", action),
		zap.String("actor", actor))
	return &Result{Success: true, State: record.State}, nil
}

func (e *Engine) connectionFor(ctx context.Context, record *core.RemediationRecord) (*core.IntegrationConnection, core.MailProvider, error) {
	conn, err := e.integrations.GetIntegration(ctx, record.IntegrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load integration %s: %w", record.IntegrationID, err)
	}
	provider, err := e.providerFor(conn)
	if err != nil {
		return nil, nil, err
	}
	return conn, provider, nil
}

func (e *Engine) providerFor(conn *core.IntegrationConnection) (core.MailProvider, error) {
	provider, ok := e.providers[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider adapter for %q", conn.Provider)
	}
	return provider, nil
}

// notify runs a notification delivery; failures are logged and swallowed
func (e *Engine) notify(ctx context.Context, fn func(context.Context) error) {
	if e.notifier == nil {
		return
	}
	if err := fn(ctx); err != nil {
		e.logger.Warn("Notification delivery failed", zap.Error(err))
	}
}
