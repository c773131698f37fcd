package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"go.uber.org/zap"
)

// refreshWindow is how close to expiry a token is still considered usable
const refreshWindow = 60 * time.Second

// Gateway turns provider change notifications into queued work items. It
// is deliberately thin: resolve the integration, diff the mailbox, chunk
// the refs and enqueue. The stored sync cursor is never advanced here;
// only the worker does that, after a batch fully succeeds.
type Gateway struct {
	integrations core.IntegrationStore
	queue        core.WorkQueue
	providers    map[string]core.MailProvider
	maxRefs      int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewGateway creates a new ingestion gateway
func NewGateway(
	integrations core.IntegrationStore,
	queue core.WorkQueue,
	providers map[string]core.MailProvider,
	maxRefsPerItem int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		integrations: integrations,
		queue:        queue,
		providers:    providers,
		maxRefs:      maxRefsPerItem,
		metrics:      m,
		logger:       logger,
	}
}

// HandleNotification processes one raw webhook payload for the named
// provider. It returns a non-empty validation token when the payload is a
// subscription handshake that must be echoed back. A malformed payload or
// an unknown integration is logged and dropped; the webhook endpoint
// acknowledges regardless so providers do not retry junk at us.
func (g *Gateway) HandleNotification(ctx context.Context, providerName string, payload []byte) (string, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "unknown_provider").Inc()
		g.logger.Warn("Notification for unknown provider", zap.String("provider", providerName))
		return "", nil
	}

	notification, err := provider.ParseNotification(payload)
	if err != nil {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "malformed").Inc()
		g.logger.Warn("Dropping malformed notification",
			zap.String("provider", providerName),
			zap.Error(err))
		return "", nil
	}

	if notification.ValidationToken != "" {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "handshake").Inc()
		g.logger.Info("Answering subscription validation handshake",
			zap.String("provider", providerName))
		return notification.ValidationToken, nil
	}

	conn, err := g.resolveIntegration(ctx, provider, notification)
	if err != nil {
		return "", err
	}
	if conn == nil {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "unknown_integration").Inc()
		g.logger.Info("Ignoring notification for unknown integration",
			zap.String("provider", providerName),
			zap.String("email_address", notification.EmailAddress),
			zap.String("subscription_id", notification.SubscriptionID))
		return "", nil
	}
	if conn.Status != core.StatusConnected {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "not_connected").Inc()
		g.logger.Info("Ignoring notification for non-connected integration",
			zap.String("provider", providerName),
			zap.String("integration_id", conn.ID),
			zap.String("status", string(conn.Status)))
		return "", nil
	}

	enqueued, err := g.SyncIntegration(ctx, provider, conn)
	if err != nil {
		g.metrics.NotificationsReceived.WithLabelValues(providerName, "error").Inc()
		return "", err
	}

	g.metrics.NotificationsReceived.WithLabelValues(providerName, "ok").Inc()
	g.logger.Debug("Notification processed",
		zap.String("provider", providerName),
		zap.String("integration_id", conn.ID),
		zap.Int("items_enqueued", enqueued))
	return "", nil
}

// SyncIntegration diffs one integration's mailbox against its stored
// cursor and enqueues the new refs in capped chunks. Returns the number of
// items enqueued.
func (g *Gateway) SyncIntegration(ctx context.Context, provider core.MailProvider, conn *core.IntegrationConnection) (int, error) {
	if err := g.ensureCredentials(ctx, provider, conn); err != nil {
		return 0, err
	}

	refs, next, err := provider.DiffSince(ctx, conn, conn.SyncCursor)
	if err != nil {
		return 0, fmt.Errorf("failed to diff mailbox for integration %s: %w", conn.ID, err)
	}

	// A first-ever sync establishes a baseline cursor without any refs
	// to process; persist it so the next notification has a start point.
	if conn.SyncCursor == "" && next != "" {
		if err := g.integrations.UpdateCursor(ctx, conn.ID, next); err != nil {
			return 0, fmt.Errorf("failed to store baseline cursor: %w", err)
		}
		conn.SyncCursor = next
		if len(refs) == 0 {
			return 0, nil
		}
	}

	enqueued := 0
	for start := 0; start < len(refs); start += g.maxRefs {
		end := start + g.maxRefs
		if end > len(refs) {
			end = len(refs)
		}
		item := &core.WorkItem{
			TenantID:            conn.TenantID,
			IntegrationID:       conn.ID,
			ProviderMessageRefs: refs[start:end],
			SyncCursorAtEnqueue: next,
		}
		if err := g.queue.Enqueue(ctx, item); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue work item: %w", err)
		}
		g.metrics.ItemsEnqueued.Inc()
		enqueued++
	}
	return enqueued, nil
}

// PollIntegrations syncs every integration of the given provider. Used for
// the domain-wide variant, which has no push notifications.
func (g *Gateway) PollIntegrations(ctx context.Context, providerName string) error {
	provider, ok := g.providers[providerName]
	if !ok {
		return fmt.Errorf("unknown provider %q", providerName)
	}

	conns, err := g.integrations.ListByProvider(ctx, providerName)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}

	var firstErr error
	for _, conn := range conns {
		if conn.Status != core.StatusConnected {
			continue
		}
		if _, err := g.SyncIntegration(ctx, provider, conn); err != nil {
			g.logger.Error("Failed to sync integration",
				zap.String("integration_id", conn.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ensureCredentials refreshes the access token when it is expired or about
// to expire, persisting the new token before use
func (g *Gateway) ensureCredentials(ctx context.Context, provider core.MailProvider, conn *core.IntegrationConnection) error {
	if !conn.CredentialsExpiring(refreshWindow) {
		return nil
	}

	accessToken, expiry, err := provider.RefreshCredentials(ctx, conn)
	if err != nil {
		if core.Classify(err) == core.ErrorCredential {
			if serr := g.integrations.UpdateStatus(ctx, conn.ID, core.StatusRevoked); serr != nil {
				g.logger.Error("Failed to mark integration revoked",
					zap.String("integration_id", conn.ID),
					zap.Error(serr))
			}
		}
		return fmt.Errorf("failed to refresh credentials for integration %s: %w", conn.ID, err)
	}

	if err := g.integrations.UpdateCredentials(ctx, conn.ID, accessToken, expiry); err != nil {
		return fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}
	conn.AccessToken = accessToken
	conn.TokenExpiry = time.Unix(expiry, 0)

	g.logger.Debug("Refreshed integration credentials",
		zap.String("integration_id", conn.ID),
		zap.Time("expiry", conn.TokenExpiry))
	return nil
}

func (g *Gateway) resolveIntegration(ctx context.Context, provider core.MailProvider, n *core.Notification) (*core.IntegrationConnection, error) {
	var (
		conn *core.IntegrationConnection
		err  error
	)
	switch {
	case n.SubscriptionID != "":
		conn, err = g.integrations.FindBySubscription(ctx, provider.Name(), n.SubscriptionID)
	case n.EmailAddress != "":
		conn, err = g.integrations.FindByEmailAddress(ctx, provider.Name(), n.EmailAddress)
	default:
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve integration: %w", err)
	}

	// Subscription notifications carry a shared secret; a mismatch means
	// the notification is not from our subscription.
	if n.SubscriptionID != "" && conn.ClientState != "" && n.ClientState != conn.ClientState {
		g.logger.Warn("Notification client state mismatch",
			zap.String("integration_id", conn.ID))
		return nil, nil
	}
	return conn, nil
}
