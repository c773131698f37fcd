package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mikey/mail-sentinel/internal/adapters/queue"
	"github.com/mikey/mail-sentinel/internal/adapters/store"
	"github.com/mikey/mail-sentinel/internal/config"
	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/ingest"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"github.com/mikey/mail-sentinel/internal/notify"
	"github.com/mikey/mail-sentinel/internal/providers/msgraph"
	"github.com/mikey/mail-sentinel/internal/remediation"
	"github.com/mikey/mail-sentinel/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type passAnalyzer struct{}

func (passAnalyzer) Analyze(ctx context.Context, tenantID string, email *core.Email, opts core.AnalyzeOptions) (*core.Verdict, error) {
	return &core.Verdict{Class: core.VerdictPass, CreatedAt: time.Now()}, nil
}

// flakyProvider resolves notifications but fails every mailbox diff
type flakyProvider struct{}

func (flakyProvider) Name() string { return "flaky" }

func (flakyProvider) ParseNotification(payload []byte) (*core.Notification, error) {
	return &core.Notification{Provider: "flaky", EmailAddress: "user@flaky.example"}, nil
}

func (flakyProvider) DiffSince(ctx context.Context, conn *core.IntegrationConnection, cursor string) ([]string, string, error) {
	return nil, "", core.TransientError(errors.New("upstream unavailable"))
}

func (flakyProvider) FetchMessage(ctx context.Context, conn *core.IntegrationConnection, ref string) (*core.Email, error) {
	return nil, core.TransientError(errors.New("upstream unavailable"))
}

func (flakyProvider) Quarantine(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (flakyProvider) Restore(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (flakyProvider) Delete(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return nil
}

func (flakyProvider) RefreshCredentials(ctx context.Context, conn *core.IntegrationConnection) (string, int64, error) {
	return "token", time.Now().Add(time.Hour).Unix(), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()
	ms := store.NewMemoryStore(logger)
	q := queue.NewMemoryQueue()
	m := metrics.New()

	providers := map[string]core.MailProvider{
		core.ProviderMSGraph: msgraph.NewProvider("id", "secret", "common", "Q", time.Second, logger),
		"flaky":              flakyProvider{},
	}

	require.NoError(t, ms.SaveIntegration(context.Background(), &core.IntegrationConnection{
		ID:           "int-flaky",
		TenantID:     "t1",
		Provider:     "flaky",
		EmailAddress: "user@flaky.example",
		SyncCursor:   "1",
		Status:       core.StatusConnected,
		TokenExpiry:  time.Now().Add(time.Hour),
	}))

	gateway := ingest.NewGateway(ms, q, providers, 20, m, logger)
	detection := core.NewDetectionService(passAnalyzer{}, ms, ms, logger)
	engine := remediation.NewEngine(ms, ms, ms, providers, notify.NewNopNotifier(), m, logger)
	w := worker.NewWorker(q, ms, ms, detection, engine, providers, notify.NewNopNotifier(), config.WorkerConfig{
		TimeBudget:   30 * time.Second,
		BatchSize:    10,
		MaxBatchSize: 50,
		MaxAttempts:  5,
	}, m, logger)

	return NewServer("127.0.0.1:0", testSecret, gateway, w, engine, q, m, logger)
}

func authToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestWebhookHandshakeEchoedAsPlainText(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost,
		"/webhooks/msgraph?validationToken=echo-me", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "echo-me", string(body))
}

func TestWebhookMalformedPayloadStillAcknowledged(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/msgraph", strings.NewReader("junk"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookDownstreamFailureStillAcknowledged(t *testing.T) {
	s := newTestServer(t)

	// The diff against the provider fails, but the webhook must still
	// return 200 so the provider does not retry aggressively.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/flaky", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookUnknownProviderAcknowledged(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/imap", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/queue/stats", "/queue/dead-letters"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodPost, "/worker/run", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueueStatsWithAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats core.QueueStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(0), stats.Pending)
}

func TestWorkerRunEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/worker/run?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary worker.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 0, summary.Fetched)
}

func TestWorkerRunRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/worker/run?limit=abc", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemediationDeleteMissingRecordIs404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost,
		"/remediation/t1/missing-message/delete", strings.NewReader(`{"actor":"admin"}`))
	req.Header.Set("Authorization", "Bearer "+authToken(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemediationReleaseWithoutRecordIsNoOp(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost,
		"/remediation/t1/never-quarantined/release", strings.NewReader(`{"actor":"admin"}`))
	req.Header.Set("Authorization", "Bearer "+authToken(t))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
