package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/adapters/queue"
	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider drives notification parsing and diffing from canned data
type fakeProvider struct {
	name         string
	notification *core.Notification
	parseErr     error
	refs         []string
	nextCursor   string
	diffErr      error
	refreshed    int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ParseNotification(payload []byte) (*core.Notification, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.notification, nil
}

func (p *fakeProvider) DiffSince(ctx context.Context, conn *core.IntegrationConnection, cursor string) ([]string, string, error) {
	if p.diffErr != nil {
		return nil, "", p.diffErr
	}
	return p.refs, p.nextCursor, nil
}

func (p *fakeProvider) FetchMessage(ctx context.Context, conn *core.IntegrationConnection, ref string) (*core.Email, error) {
	return nil, core.TerminalError(errors.New("not used"))
}

func (p *fakeProvider) Quarantine(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (p *fakeProvider) Restore(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (p *fakeProvider) Delete(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (p *fakeProvider) RefreshCredentials(ctx context.Context, conn *core.IntegrationConnection) (string, int64, error) {
	p.refreshed++
	return "refreshed-token", time.Now().Add(time.Hour).Unix(), nil
}

type fixture struct {
	gateway  *Gateway
	queue    *queue.MemoryQueue
	store    *store.MemoryStore
	provider *fakeProvider
}

func newFixture(t *testing.T, maxRefs int) *fixture {
	t.Helper()
	ms := store.NewMemoryStore(zap.NewNop())
	q := queue.NewMemoryQueue()
	provider := &fakeProvider{name: core.ProviderGmail}

	require.NoError(t, ms.SaveIntegration(context.Background(), &core.IntegrationConnection{
		ID:           "int-1",
		TenantID:     "t1",
		Provider:     core.ProviderGmail,
		EmailAddress: "user@example.com",
		SyncCursor:   "100",
		Status:       core.StatusConnected,
	}))

	g := NewGateway(ms, q, map[string]core.MailProvider{core.ProviderGmail: provider},
		maxRefs, metrics.New(), zap.NewNop())
	return &fixture{gateway: g, queue: q, store: ms, provider: provider}
}

func (f *fixture) pending(t *testing.T) []*core.WorkItem {
	t.Helper()
	items, err := f.queue.Dequeue(context.Background(), 1000)
	require.NoError(t, err)
	return items
}

func TestHandleNotificationEnqueuesChunkedItems(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.notification = &core.Notification{
		Provider:     core.ProviderGmail,
		EmailAddress: "user@example.com",
	}
	var refs []string
	for i := 0; i < 25; i++ {
		refs = append(refs, fmt.Sprintf("msg-%d", i))
	}
	f.provider.refs = refs
	f.provider.nextCursor = "125"

	token, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, token)

	items := f.pending(t)
	require.Len(t, items, 3)
	assert.Len(t, items[0].ProviderMessageRefs, 10)
	assert.Len(t, items[1].ProviderMessageRefs, 10)
	assert.Len(t, items[2].ProviderMessageRefs, 5)
	for _, item := range items {
		assert.Equal(t, "t1", item.TenantID)
		assert.Equal(t, "int-1", item.IntegrationID)
		assert.Equal(t, "125", item.SyncCursorAtEnqueue)
	}

	conn, err := f.store.GetIntegration(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, "100", conn.SyncCursor, "gateway never advances an established cursor")
}

func TestHandleNotificationHandshake(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.notification = &core.Notification{
		Provider:        core.ProviderGmail,
		ValidationToken: "echo-me",
	}

	token, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "echo-me", token)
	assert.Empty(t, f.pending(t))
}

func TestHandleNotificationMalformedIsDropped(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.parseErr = core.MalformedError(errors.New("garbage payload"))

	token, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("junk"))
	require.NoError(t, err, "malformed payloads are logged and dropped, never errors")
	assert.Empty(t, token)
	assert.Empty(t, f.pending(t))
}

func TestHandleNotificationUnknownProvider(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.gateway.HandleNotification(context.Background(), "imap", []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, f.pending(t))
}

func TestHandleNotificationUnknownIntegrationIgnored(t *testing.T) {
	f := newFixture(t, 10)
	f.provider.notification = &core.Notification{
		Provider:     core.ProviderGmail,
		EmailAddress: "stranger@example.com",
	}
	f.provider.refs = []string{"m1"}

	token, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, f.pending(t))
}

func TestHandleNotificationNonConnectedIntegrationIgnored(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.UpdateStatus(context.Background(), "int-1", core.StatusRevoked))
	f.provider.notification = &core.Notification{
		Provider:     core.ProviderGmail,
		EmailAddress: "user@example.com",
	}
	f.provider.refs = []string{"m1"}
	f.provider.nextCursor = "200"

	token, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, f.pending(t), "a revoked integration must not be synced")
	assert.Equal(t, 0, f.provider.refreshed, "credentials of a revoked integration are left alone")
}

func TestHandleNotificationClientStateMismatchIgnored(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.SaveIntegration(context.Background(), &core.IntegrationConnection{
		ID:             "int-2",
		TenantID:       "t1",
		Provider:       core.ProviderGmail,
		SubscriptionID: "sub-1",
		ClientState:    "secret",
		Status:         core.StatusConnected,
	}))
	f.provider.notification = &core.Notification{
		Provider:       core.ProviderGmail,
		SubscriptionID: "sub-1",
		ClientState:    "wrong",
	}
	f.provider.refs = []string{"m1"}

	_, err := f.gateway.HandleNotification(context.Background(), core.ProviderGmail, []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, f.pending(t))
}

func TestSyncIntegrationBaselinePersistsCursor(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.SaveIntegration(context.Background(), &core.IntegrationConnection{
		ID:           "int-new",
		TenantID:     "t1",
		Provider:     core.ProviderGmail,
		EmailAddress: "new@example.com",
		Status:       core.StatusConnected,
	}))
	f.provider.nextCursor = "500"

	conn, err := f.store.GetIntegration(context.Background(), "int-new")
	require.NoError(t, err)

	enqueued, err := f.gateway.SyncIntegration(context.Background(), f.provider, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)

	conn, err = f.store.GetIntegration(context.Background(), "int-new")
	require.NoError(t, err)
	assert.Equal(t, "500", conn.SyncCursor, "first sync establishes the baseline cursor")
}

func TestSyncIntegrationRefreshesExpiringCredentials(t *testing.T) {
	f := newFixture(t, 10)
	conn, err := f.store.GetIntegration(context.Background(), "int-1")
	require.NoError(t, err)
	conn.AccessToken = "stale"
	conn.TokenExpiry = time.Now().Add(10 * time.Second)
	require.NoError(t, f.store.SaveIntegration(context.Background(), conn))

	f.provider.nextCursor = "101"
	conn, err = f.store.GetIntegration(context.Background(), "int-1")
	require.NoError(t, err)

	_, err = f.gateway.SyncIntegration(context.Background(), f.provider, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.refreshed)

	stored, err := f.store.GetIntegration(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", stored.AccessToken)
}

func TestPollIntegrationsSkipsDisconnected(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.SaveIntegration(context.Background(), &core.IntegrationConnection{
		ID:         "int-revoked",
		TenantID:   "t1",
		Provider:   core.ProviderGmail,
		SyncCursor: "1",
		Status:     core.StatusRevoked,
	}))
	f.provider.refs = []string{"m1"}
	f.provider.nextCursor = "200"

	require.NoError(t, f.gateway.PollIntegrations(context.Background(), core.ProviderGmail))

	items := f.pending(t)
	require.Len(t, items, 1, "only the connected integration is synced")
	assert.Equal(t, "int-1", items[0].IntegrationID)
}
