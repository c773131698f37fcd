package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap"
)

// Thresholds maps an overall score onto a verdict class
type Thresholds struct {
	Suspicious float64
	Quarantine float64
	Block      float64
}

// Classify maps a 0-100 score onto a verdict class
func (t Thresholds) Classify(score float64) core.VerdictClass {
	switch {
	case score >= t.Block:
		return core.VerdictBlock
	case score >= t.Quarantine:
		return core.VerdictQuarantine
	case score >= t.Suspicious:
		return core.VerdictSuspicious
	default:
		return core.VerdictPass
	}
}

// collectSignals derives reputation signals for every URL, domain and IP
// found in the message. Lookups go through the intel service, so cached
// results never touch the external source. A failed lookup is logged and
// skipped: a missing signal costs accuracy, not correctness.
func collectSignals(ctx context.Context, svc *intel.Service, email *core.Email, logger *zap.Logger) []core.Signal {
	var signals []core.Signal

	urls := utils.ExtractURLs(email.Subject + "\n" + email.Body)
	domains := utils.ExtractDomains(urls)
	ips := utils.ExtractIPs(urls)

	check := func(kind core.IntelType, subjects []string, sigType string) {
		for _, subject := range subjects {
			rep, err := svc.Check(ctx, kind, subject)
			if err != nil {
				logger.Warn("Reputation check failed",
					zap.String("kind", string(kind)),
					zap.String("subject", subject),
					zap.Error(err))
				continue
			}
			if !rep.Malicious {
				continue
			}
			severity := core.SeverityWarning
			if rep.Score >= 80 {
				severity = core.SeverityCritical
			}
			signals = append(signals, core.Signal{
				Type:     sigType,
				Severity: severity,
				Detail:   fmt.Sprintf("%s flagged by %s (score %.0f)", subject, rep.Source, rep.Score),
			})
		}
	}

	check(core.IntelURL, urls, "malicious_url")
	check(core.IntelDomain, domains, "malicious_domain")
	check(core.IntelIP, ips, "malicious_ip")

	if senderDomain := utils.SenderDomain(email.From); senderDomain != "" {
		replyTo := email.Headers["Reply-To"]
		if len(replyTo) > 0 && !strings.Contains(strings.ToLower(replyTo[0]), senderDomain) {
			signals = append(signals, core.Signal{
				Type:     "reply_to_mismatch",
				Severity: core.SeverityWarning,
				Detail:   fmt.Sprintf("Reply-To %q does not match sender domain %q", replyTo[0], senderDomain),
			})
		}
	}

	return signals
}

// scoreFromSignals computes a rules-only score from collected signals.
// Used by the rules analyzer and as the degraded path when deep analysis
// is skipped.
func scoreFromSignals(signals []core.Signal) float64 {
	score := 0.0
	for _, sig := range signals {
		switch sig.Severity {
		case core.SeverityCritical:
			score += 50
		case core.SeverityWarning:
			score += 20
		case core.SeverityInfo:
			score += 5
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
