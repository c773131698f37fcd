package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/intel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testThresholds() Thresholds {
	return Thresholds{Suspicious: 40, Quarantine: 70, Block: 90}
}

func TestThresholdsClassify(t *testing.T) {
	th := testThresholds()

	assert.Equal(t, core.VerdictPass, th.Classify(0))
	assert.Equal(t, core.VerdictPass, th.Classify(39))
	assert.Equal(t, core.VerdictSuspicious, th.Classify(40))
	assert.Equal(t, core.VerdictSuspicious, th.Classify(69))
	assert.Equal(t, core.VerdictQuarantine, th.Classify(70))
	assert.Equal(t, core.VerdictQuarantine, th.Classify(89))
	assert.Equal(t, core.VerdictBlock, th.Classify(90))
	assert.Equal(t, core.VerdictBlock, th.Classify(100))
}

func TestScoreFromSignals(t *testing.T) {
	assert.Equal(t, 0.0, scoreFromSignals(nil))

	signals := []core.Signal{
		{Severity: core.SeverityCritical},
		{Severity: core.SeverityWarning},
		{Severity: core.SeverityInfo},
	}
	assert.Equal(t, 75.0, scoreFromSignals(signals))

	// The score is capped at 100.
	many := []core.Signal{
		{Severity: core.SeverityCritical},
		{Severity: core.SeverityCritical},
		{Severity: core.SeverityCritical},
	}
	assert.Equal(t, 100.0, scoreFromSignals(many))
}

// tableSource flags a fixed set of subjects as malicious
type tableSource struct {
	bad map[string]bool
}

func (s *tableSource) Lookup(ctx context.Context, kind core.IntelType, subject string) (*core.Reputation, error) {
	return &core.Reputation{
		Subject:   subject,
		Malicious: s.bad[subject],
		Score:     90,
		Source:    "table",
		CheckedAt: time.Now(),
	}, nil
}

func newIntelService(bad map[string]bool) *intel.Service {
	cache := intel.NewCache(intel.DefaultConfig(), zap.NewNop())
	return intel.NewService(cache, &tableSource{bad: bad}, 0, nil, zap.NewNop())
}

func TestCollectSignalsFlagsMaliciousURL(t *testing.T) {
	svc := newIntelService(map[string]bool{"https://evil.example/login": true})
	defer svc.Stop()

	email := &core.Email{
		MessageID: "m1",
		From:      "alice@example.com",
		Body:      "click https://evil.example/login now",
	}
	signals := collectSignals(context.Background(), svc, email, zap.NewNop())

	require.NotEmpty(t, signals)
	assert.Equal(t, "malicious_url", signals[0].Type)
	assert.Equal(t, core.SeverityCritical, signals[0].Severity)
}

func TestCollectSignalsReplyToMismatch(t *testing.T) {
	svc := newIntelService(nil)
	defer svc.Stop()

	email := &core.Email{
		MessageID: "m1",
		From:      "ceo@company.example",
		Body:      "wire the funds",
		Headers:   map[string][]string{"Reply-To": {"attacker@evil.example"}},
	}
	signals := collectSignals(context.Background(), svc, email, zap.NewNop())

	require.Len(t, signals, 1)
	assert.Equal(t, "reply_to_mismatch", signals[0].Type)
}

func TestRulesAnalyzerUrgencyLanguage(t *testing.T) {
	svc := newIntelService(nil)
	defer svc.Stop()
	a := NewRulesAnalyzer(svc, testThresholds(), zap.NewNop())

	email := &core.Email{
		MessageID: "m1",
		From:      "alice@example.com",
		Subject:   "URGENT ACTION REQUIRED",
		Body:      "verify your account immediately",
	}
	verdict, err := a.Analyze(context.Background(), "t1", email, core.AnalyzeOptions{})
	require.NoError(t, err)

	assert.Greater(t, verdict.Score, 0.0)
	assert.NotEmpty(t, verdict.Signals)
}

func TestRulesAnalyzerCleanMessage(t *testing.T) {
	svc := newIntelService(nil)
	defer svc.Stop()
	a := NewRulesAnalyzer(svc, testThresholds(), zap.NewNop())

	email := &core.Email{
		MessageID: "m1",
		From:      "alice@example.com",
		Subject:   "lunch tomorrow?",
		Body:      "see you at noon",
	}
	verdict, err := a.Analyze(context.Background(), "t1", email, core.AnalyzeOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.VerdictPass, verdict.Class)
	assert.Equal(t, 0.0, verdict.Score)
}
