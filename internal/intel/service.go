package intel

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service performs cache-first reputation lookups. Concurrent misses for
// the same subject are collapsed with singleflight so one in-flight source
// query serves every waiter.
type Service struct {
	cache   *Cache
	source  core.ReputationSource
	metrics *metrics.Metrics
	logger  *zap.Logger
	group   singleflight.Group

	sweepFreq time.Duration
	stopCh    chan struct{}
}

// NewService creates a new intel lookup service and starts the periodic
// cache sweep. metrics may be nil.
func NewService(cache *Cache, source core.ReputationSource, sweepFreq time.Duration, m *metrics.Metrics, logger *zap.Logger) *Service {
	s := &Service{
		cache:     cache,
		source:    source,
		metrics:   m,
		logger:    logger,
		sweepFreq: sweepFreq,
		stopCh:    make(chan struct{}),
	}
	if sweepFreq > 0 {
		go s.sweepLoop()
	}
	return s
}

// Check resolves the reputation of a subject, consulting the cache before
// the external source and populating the cache on miss
func (s *Service) Check(ctx context.Context, kind core.IntelType, subject string) (*core.Reputation, error) {
	key := NormalizeKey(kind, subject)
	if rep, ok := s.cache.Get(kind, key); ok {
		s.countLookup(kind, "hit")
		return rep, nil
	}
	s.countLookup(kind, "miss")

	v, err, _ := s.group.Do(string(kind)+":"+key, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have filled the
		// cache while this one waited.
		if rep, ok := s.cache.Get(kind, key); ok {
			return rep, nil
		}
		rep, err := s.source.Lookup(ctx, kind, subject)
		if err != nil {
			return nil, fmt.Errorf("reputation lookup failed for %s %q: %w", kind, subject, err)
		}
		if rep.CheckedAt.IsZero() {
			rep.CheckedAt = time.Now()
		}
		s.cache.Set(kind, key, *rep)
		return rep, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Reputation), nil
}

func (s *Service) countLookup(kind core.IntelType, result string) {
	if s.metrics != nil {
		s.metrics.IntelLookups.WithLabelValues(string(kind), result).Inc()
	}
}

// Stats exposes the underlying cache statistics
func (s *Service) Stats() map[core.IntelType]NamespaceStats {
	return s.cache.Stats()
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.sweepFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.cache.CleanExpired()
			total := 0
			for _, n := range removed {
				total += n
			}
			if total > 0 {
				s.logger.Debug("Intel cache sweep removed entries", zap.Int("removed", total))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the background sweep
func (s *Service) Stop() {
	if s.sweepFreq > 0 {
		close(s.stopCh)
	}
}
