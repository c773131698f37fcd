package factory

import (
	"fmt"

	"github.com/mikey/mail-sentinel/internal/adapters/analyzer"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"github.com/mikey/mail-sentinel/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// NewAnalyzer creates the configured detection analyzer
func NewAnalyzer(cfg *config.Config, intelSvc *intel.Service, logger *zap.Logger) (core.Analyzer, error) {
	ac := cfg.GetAnalyzer()
	thresholds := analyzer.Thresholds{
		Suspicious: ac.SuspiciousThreshold,
		Quarantine: ac.QuarantineThreshold,
		Block:      ac.BlockThreshold,
	}

	switch ac.Provider {
	case "openai":
		oc := cfg.GetOpenAI()
		if oc.APIKey == "" {
			return nil, fmt.Errorf("openai analyzer selected but no api key configured")
		}
		client := openai.NewClient(oc.APIKey)
		return analyzer.NewOpenAIAnalyzer(
			client,
			intelSvc,
			utils.NewTextProcessor(logger),
			thresholds,
			oc.ModelName,
			oc.MaxTokens,
			oc.Temperature,
			oc.TopP,
			oc.MaxBodySize,
			logger,
		), nil
	case "rules":
		return analyzer.NewRulesAnalyzer(intelSvc, thresholds, logger), nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider: %s", ac.Provider)
	}
}
