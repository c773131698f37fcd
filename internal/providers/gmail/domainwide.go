package gmail

import (
	"context"
	"fmt"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

var domainWideScopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailModifyScope,
}

// NewDomainWideProvider creates a Gmail adapter that authenticates with a
// service account and domain-wide delegation, impersonating the mailbox
// owner per call. There is no per-user OAuth consent and no refresh token;
// short-lived tokens are minted from the service account key on demand.
// Mailboxes under this variant are discovered by polling rather than watch
// notifications.
func NewDomainWideProvider(serviceAccountJSON []byte, quarantineLabel string, logger *zap.Logger) (*Provider, error) {
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON, domainWideScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}

	return &Provider{
		name:            core.ProviderGmailDomainWide,
		quarantineLabel: quarantineLabel,
		logger:          logger,
		labelIDs:        make(map[string]string),
		tokenSource: func(ctx context.Context, conn *core.IntegrationConnection) (oauth2.TokenSource, error) {
			impersonated := *cfg
			impersonated.Subject = conn.EmailAddress
			return impersonated.TokenSource(ctx), nil
		},
	}, nil
}
