package analyzer

import (
	"context"
	"strings"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"go.uber.org/zap"
)

// RulesAnalyzer is a fast heuristic implementation of the pipeline
// contract: reputation signals plus a handful of structural checks, no
// model call. Useful where no LLM credentials are configured.
type RulesAnalyzer struct {
	intel      *intel.Service
	thresholds Thresholds
	logger     *zap.Logger
}

// NewRulesAnalyzer creates a new rules-only analyzer
func NewRulesAnalyzer(intelSvc *intel.Service, thresholds Thresholds, logger *zap.Logger) *RulesAnalyzer {
	return &RulesAnalyzer{
		intel:      intelSvc,
		thresholds: thresholds,
		logger:     logger,
	}
}

var urgencyPhrases = []string{
	"urgent action required",
	"verify your account",
	"password will expire",
	"wire transfer",
	"gift card",
	"payment is overdue",
}

// Analyze scores one email using signals and structural heuristics only
func (a *RulesAnalyzer) Analyze(ctx context.Context, tenantID string, email *core.Email, opts core.AnalyzeOptions) (*core.Verdict, error) {
	signals := collectSignals(ctx, a.intel, email, a.logger)

	lowered := strings.ToLower(email.Subject + " " + email.Body)
	for _, phrase := range urgencyPhrases {
		if strings.Contains(lowered, phrase) {
			signals = append(signals, core.Signal{
				Type:     "urgency_language",
				Severity: core.SeverityInfo,
				Detail:   "Contains pressure phrase: " + phrase,
			})
		}
	}

	score := scoreFromSignals(signals)
	return &core.Verdict{
		Class:       a.thresholds.Classify(score),
		Score:       score,
		Confidence:  0.6,
		Signals:     signals,
		Explanation: "Rules-based assessment",
		CreatedAt:   time.Now(),
	}, nil
}
