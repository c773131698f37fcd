package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/mikey/mail-sentinel/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	quarantines int
	restores    int
	deletes     int
	failWith    error
}

func (p *fakeProvider) Name() string { return core.ProviderGmail }

func (p *fakeProvider) ParseNotification(payload []byte) (*core.Notification, error) {
	return nil, core.MalformedError(errors.New("not used"))
}

func (p *fakeProvider) DiffSince(ctx context.Context, conn *core.IntegrationConnection, cursor string) ([]string, string, error) {
	return nil, cursor, nil
}

func (p *fakeProvider) FetchMessage(ctx context.Context, conn *core.IntegrationConnection, ref string) (*core.Email, error) {
	return nil, core.TerminalError(errors.New("not used"))
}

func (p *fakeProvider) Quarantine(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.quarantines++
	return nil
}

func (p *fakeProvider) Restore(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.restores++
	return nil
}

func (p *fakeProvider) Delete(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.deletes++
	return nil
}

func (p *fakeProvider) RefreshCredentials(ctx context.Context, conn *core.IntegrationConnection) (string, int64, error) {
	return "token", time.Now().Add(time.Hour).Unix(), nil
}

type engineFixture struct {
	engine   *Engine
	store    *store.MemoryStore
	provider *fakeProvider
	conn     *core.IntegrationConnection
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ms := store.NewMemoryStore(zap.NewNop())
	provider := &fakeProvider{}

	conn := &core.IntegrationConnection{
		ID:           "int-1",
		TenantID:     "t1",
		Provider:     core.ProviderGmail,
		EmailAddress: "user@example.com",
		Status:       core.StatusConnected,
	}
	require.NoError(t, ms.SaveIntegration(context.Background(), conn))

	engine := NewEngine(
		ms, ms, ms,
		map[string]core.MailProvider{core.ProviderGmail: provider},
		notify.NewNopNotifier(),
		metrics.New(),
		zap.NewNop(),
	)
	return &engineFixture{engine: engine, store: ms, provider: provider, conn: conn}
}

func threatVerdict() *core.Verdict {
	return &core.Verdict{
		TenantID:   "t1",
		MessageID:  "m1",
		Class:      core.VerdictQuarantine,
		Score:      85,
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
}

func TestQuarantineCreatesRecord(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	result, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.RemediationQuarantined, result.State)
	assert.Equal(t, 1, f.provider.quarantines)

	record, err := f.store.GetRemediation(ctx, "t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, core.RemediationQuarantined, record.State)
	assert.NotNil(t, record.QuarantinedAt)
	assert.Equal(t, "ref-1", record.ProviderMessageRef)
}

func TestQuarantineTwiceIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)

	result, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.provider.quarantines, "second quarantine must not touch the provider")
}

func TestQuarantineProviderFailureKeepsState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.provider.failWith = core.TransientError(errors.New("rate limited"))
	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.Error(t, err)

	_, err = f.store.GetRemediation(ctx, "t1", "m1")
	assert.ErrorIs(t, err, core.ErrNotFound, "record must not advance when the provider op failed")
}

func TestReleaseRestoresMessage(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)

	result, err := f.engine.Release(ctx, "t1", "m1", "admin@example.com")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.RemediationReleased, result.State)
	assert.Equal(t, 1, f.provider.restores)

	record, err := f.store.GetRemediation(ctx, "t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", record.ReleasedBy)
	assert.NotNil(t, record.ReleasedAt)
}

func TestReleaseTwiceIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)
	_, err = f.engine.Release(ctx, "t1", "m1", "admin")
	require.NoError(t, err)

	result, err := f.engine.Release(ctx, "t1", "m1", "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.provider.restores)
}

func TestReleaseOnActiveMessageIsNoOp(t *testing.T) {
	f := newEngineFixture(t)

	// Never quarantined, so there is no record and nothing to restore.
	result, err := f.engine.Release(context.Background(), "t1", "never-quarantined", "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.RemediationActive, result.State)
	assert.Equal(t, 0, f.provider.restores, "the provider must not be touched")

	result, err = f.engine.MarkFalsePositive(context.Background(), "t1", "never-quarantined", "admin", "", "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, f.provider.restores)
}

func TestDeleteWithoutRecordFails(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Delete(context.Background(), "t1", "missing", "admin")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "no remediation record", result.Reason)
	assert.Equal(t, 0, f.provider.deletes)
}

func TestTerminalStateBlocksFurtherTransitions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)
	_, err = f.engine.Delete(ctx, "t1", "m1", "admin")
	require.NoError(t, err)

	result, err := f.engine.Release(ctx, "t1", "m1", "admin")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.RemediationDeleted, result.State)

	// Re-quarantine of a deleted message is refused too.
	qres, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)
	assert.False(t, qres.Success)
}

func TestMarkFalsePositiveAddsAllowlistEntry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)

	result, err := f.engine.MarkFalsePositive(ctx, "t1", "m1", "admin", "legitimate newsletter", "sender@example.net")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.RemediationFalsePositive, result.State)
	assert.Equal(t, 1, f.provider.restores)

	allowed, err := f.store.IsAllowlisted(ctx, "t1", "sender@example.net")
	require.NoError(t, err)
	assert.True(t, allowed)

	rec, err := f.store.GetRemediation(ctx, "t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "legitimate newsletter", rec.Reason)
}

func TestDeleteFromQuarantine(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Quarantine(ctx, f.conn, threatVerdict(), "ref-1")
	require.NoError(t, err)

	result, err := f.engine.Delete(ctx, "t1", "m1", "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.RemediationDeleted, result.State)
	assert.Equal(t, 1, f.provider.deletes)
}
