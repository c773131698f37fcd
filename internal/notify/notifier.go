package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// WebhookNotifier posts JSON events to a configured webhook URL. Delivery
// is best effort: a failed post is reported to the caller for logging but
// callers never fail their own operation because of it.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(url, secret string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NotifyThreat reports a newly quarantined threat
func (n *WebhookNotifier) NotifyThreat(ctx context.Context, verdict *core.Verdict, record *core.RemediationRecord) error {
	return n.post(ctx, event{
		Type:      "threat.detected",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"tenant_id":  verdict.TenantID,
			"message_id": verdict.MessageID,
			"class":      verdict.Class,
			"score":      verdict.Score,
			"state":      record.State,
		},
	})
}

// NotifyRemediation reports a manual remediation action
func (n *WebhookNotifier) NotifyRemediation(ctx context.Context, record *core.RemediationRecord, action string) error {
	return n.post(ctx, event{
		Type:      "remediation." + action,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"tenant_id":  record.TenantID,
			"message_id": record.MessageID,
			"state":      record.State,
			"actor":      record.ReleasedBy,
		},
	})
}

// NotifySyncComplete reports a finished mailbox sync batch
func (n *WebhookNotifier) NotifySyncComplete(ctx context.Context, tenantID, integrationID string, processed, threats int) error {
	return n.post(ctx, event{
		Type:      "sync.complete",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"tenant_id":      tenantID,
			"integration_id": integrationID,
			"processed":      processed,
			"threats":        threats,
		},
	})
}

func (n *WebhookNotifier) post(ctx context.Context, ev event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	n.logger.Debug("Notification delivered", zap.String("type", ev.Type))
	return nil
}

// NopNotifier discards every notification. Used when notifications are
// disabled.
type NopNotifier struct{}

// NewNopNotifier creates a notifier that does nothing
func NewNopNotifier() *NopNotifier {
	return &NopNotifier{}
}

func (n *NopNotifier) NotifyThreat(ctx context.Context, verdict *core.Verdict, record *core.RemediationRecord) error {
	return nil
}

func (n *NopNotifier) NotifyRemediation(ctx context.Context, record *core.RemediationRecord, action string) error {
	return nil
}

func (n *NopNotifier) NotifySyncComplete(ctx context.Context, tenantID, integrationID string, processed, threats int) error {
	return nil
}
