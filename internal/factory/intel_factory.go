package factory

import (
	"github.com/mikey/mail-sentinel/internal/adapters/reputation"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"go.uber.org/zap"
)

// NewReputationSource creates the configured reputation backend. With no
// endpoint configured every subject reads as clean and detection relies on
// the analyzer alone.
func NewReputationSource(cfg *config.Config, logger *zap.Logger) (core.ReputationSource, error) {
	endpoint := cfg.GetString("reputation.endpoint")
	if endpoint == "" {
		logger.Info("No reputation endpoint configured, using null source")
		return reputation.NewNullSource(), nil
	}
	timeout, err := cfg.GetDuration("reputation.timeout")
	if err != nil {
		return nil, err
	}
	return reputation.NewHTTPSource(endpoint, cfg.GetString("reputation.api_key"), timeout, logger), nil
}

// NewIntelService creates the TTL cache and the service wrapping it.
// m may be nil when no metrics registry is wanted (the scan CLI).
func NewIntelService(cfg *config.Config, source core.ReputationSource, m *metrics.Metrics, logger *zap.Logger) (*intel.Service, error) {
	ic, err := cfg.GetIntel()
	if err != nil {
		return nil, err
	}

	cache := intel.NewCache(map[core.IntelType]intel.NamespaceConfig{
		core.IntelURL:    {TTL: ic.URLTTL, MaxSize: ic.URLMaxSize},
		core.IntelDomain: {TTL: ic.DomainTTL, MaxSize: ic.DomainMaxSize},
		core.IntelIP:     {TTL: ic.IPTTL, MaxSize: ic.IPMaxSize},
	}, logger)

	return intel.NewService(cache, source, ic.CleanupFrequency, m, logger), nil
}
