package factory

import (
	"fmt"
	"os"

	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/providers/gmail"
	"github.com/mikey/mail-sentinel/internal/providers/msgraph"
	"go.uber.org/zap"
)

// NewProviders builds the provider adapter registry. Gmail and Graph are
// always available; the domain-wide Gmail variant is added only when a
// service account key is configured.
func NewProviders(cfg *config.Config, logger *zap.Logger) (map[string]core.MailProvider, error) {
	gc := cfg.GetGmail()
	mc, err := cfg.GetMSGraph()
	if err != nil {
		return nil, err
	}

	providers := map[string]core.MailProvider{
		core.ProviderGmail: gmail.NewProvider(gc.ClientID, gc.ClientSecret, gc.QuarantineLabel, logger),
		core.ProviderMSGraph: msgraph.NewProvider(
			mc.ClientID, mc.ClientSecret, mc.Tenant, mc.QuarantineFolder, mc.Timeout, logger),
	}

	if gc.ServiceAccountJSON != "" {
		key, err := os.ReadFile(gc.ServiceAccountJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account key: %w", err)
		}
		dw, err := gmail.NewDomainWideProvider(key, gc.QuarantineLabel, logger)
		if err != nil {
			return nil, err
		}
		providers[core.ProviderGmailDomainWide] = dw
	}

	return providers, nil
}
