package intel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSource struct {
	calls atomic.Int64
	delay time.Duration
}

func (s *countingSource) Lookup(ctx context.Context, kind core.IntelType, subject string) (*core.Reputation, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return &core.Reputation{
		Subject:   subject,
		Malicious: true,
		Score:     90,
		Source:    "test",
		CheckedAt: time.Now(),
	}, nil
}

func TestServiceCachesLookups(t *testing.T) {
	source := &countingSource{}
	svc := NewService(newTestCache(time.Hour, 100), source, 0, nil, zap.NewNop())
	defer svc.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, err := svc.Check(ctx, core.IntelDomain, "evil.example")
		require.NoError(t, err)
		assert.True(t, got.Malicious)
	}

	assert.Equal(t, int64(1), source.calls.Load(), "only the first check hits the source")
}

func TestServiceCollapsesConcurrentMisses(t *testing.T) {
	source := &countingSource{delay: 20 * time.Millisecond}
	svc := NewService(newTestCache(time.Hour, 100), source, 0, nil, zap.NewNop())
	defer svc.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Check(context.Background(), core.IntelURL, "https://evil.example/x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), source.calls.Load(), "concurrent misses collapse to one source query")
}
