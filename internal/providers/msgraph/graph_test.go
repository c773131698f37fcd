package msgraph

import (
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProvider() *Provider {
	return NewProvider("client-id", "client-secret", "common", "SentinelQuarantine", 30*time.Second, zap.NewNop())
}

func TestParseNotificationHandshake(t *testing.T) {
	p := testProvider()

	n, err := p.ParseNotification([]byte(`{"validationToken":"echo-me"}`))
	require.NoError(t, err)

	assert.Equal(t, "echo-me", n.ValidationToken)
	assert.Empty(t, n.SubscriptionID)
}

func TestParseNotificationChange(t *testing.T) {
	p := testProvider()
	payload := []byte(`{
		"value": [
			{
				"subscriptionId": "sub-1",
				"clientState": "secret",
				"changeType": "created",
				"resourceData": {"id": "AAMkAD=="}
			}
		]
	}`)

	n, err := p.ParseNotification(payload)
	require.NoError(t, err)

	assert.Equal(t, core.ProviderMSGraph, n.Provider)
	assert.Equal(t, "sub-1", n.SubscriptionID)
	assert.Equal(t, "secret", n.ClientState)
	assert.Empty(t, n.ValidationToken)
}

func TestParseNotificationMalformed(t *testing.T) {
	p := testProvider()

	for name, payload := range map[string][]byte{
		"not json":           []byte("junk"),
		"empty value":        []byte(`{"value":[]}`),
		"no subscription id": []byte(`{"value":[{"clientState":"x"}]}`),
	} {
		_, err := p.ParseNotification(payload)
		require.Error(t, err, name)
		assert.Equal(t, core.ErrorMalformed, core.Classify(err), name)
	}
}

func TestDefaultTenant(t *testing.T) {
	p := NewProvider("id", "secret", "", "Q", time.Second, zap.NewNop())
	assert.Equal(t, "common", p.tenant)
}
