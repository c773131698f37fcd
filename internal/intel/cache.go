package intel

import (
	"strings"
	"sync"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// Entry is one cached reputation result
type Entry struct {
	Reputation core.Reputation
	InsertedAt time.Time
}

// NamespaceStats reports the state of one cache namespace
type NamespaceStats struct {
	Size    int    `json:"size"`
	MaxSize int    `json:"max_size"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// NamespaceConfig sets TTL and capacity per intel type
type NamespaceConfig struct {
	TTL     time.Duration
	MaxSize int
}

type namespace struct {
	entries map[string]*Entry
	order   []string // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	hits    uint64
	misses  uint64
}

// Cache is the process-wide TTL cache for URL/domain/IP reputation lookups.
// Each namespace has an independent TTL and capacity; entries past their
// TTL are treated as absent on read and removed for real by CleanExpired.
// At capacity the least-recently-inserted entry is evicted. The cache never
// performs I/O itself.
type Cache struct {
	mu         sync.RWMutex
	namespaces map[core.IntelType]*namespace
	logger     *zap.Logger
}

// DefaultConfig returns the default per-namespace TTLs and capacities
func DefaultConfig() map[core.IntelType]NamespaceConfig {
	return map[core.IntelType]NamespaceConfig{
		core.IntelURL:    {TTL: time.Hour, MaxSize: 10000},
		core.IntelDomain: {TTL: 4 * time.Hour, MaxSize: 5000},
		core.IntelIP:     {TTL: 2 * time.Hour, MaxSize: 5000},
	}
}

// NewCache creates a new threat-intel cache
func NewCache(cfg map[core.IntelType]NamespaceConfig, logger *zap.Logger) *Cache {
	namespaces := make(map[core.IntelType]*namespace, len(cfg))
	for kind, nc := range cfg {
		maxSize := nc.MaxSize
		if maxSize <= 0 {
			maxSize = 1000
		}
		namespaces[kind] = &namespace{
			entries: make(map[string]*Entry),
			ttl:     nc.TTL,
			maxSize: maxSize,
		}
	}
	return &Cache{
		namespaces: namespaces,
		logger:     logger,
	}
}

// NormalizeKey canonicalizes a cache subject within its namespace
func NormalizeKey(kind core.IntelType, key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	if kind == core.IntelDomain {
		key = strings.TrimSuffix(key, ".")
	}
	return key
}

// Get returns the cached reputation for key, treating entries older than
// the namespace TTL as absent
func (c *Cache) Get(kind core.IntelType, key string) (*core.Reputation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[kind]
	if !ok {
		return nil, false
	}

	entry, ok := ns.entries[NormalizeKey(kind, key)]
	if !ok {
		ns.misses++
		return nil, false
	}
	if time.Since(entry.InsertedAt) > ns.ttl {
		ns.misses++
		return nil, false
	}

	ns.hits++
	rep := entry.Reputation
	return &rep, true
}

// Set stores a reputation result, evicting the oldest insertion when the
// namespace is at capacity
func (c *Cache) Set(kind core.IntelType, key string, rep core.Reputation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[kind]
	if !ok {
		return
	}

	key = NormalizeKey(kind, key)
	if _, exists := ns.entries[key]; !exists {
		for len(ns.entries) >= ns.maxSize && len(ns.order) > 0 {
			oldest := ns.order[0]
			ns.order = ns.order[1:]
			// The order slice can hold keys already replaced in place;
			// only a key still present counts as an eviction.
			if _, ok := ns.entries[oldest]; ok {
				delete(ns.entries, oldest)
			}
		}
		ns.order = append(ns.order, key)
	}

	ns.entries[key] = &Entry{
		Reputation: rep,
		InsertedAt: time.Now(),
	}
}

// Clear empties every namespace
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ns := range c.namespaces {
		ns.entries = make(map[string]*Entry)
		ns.order = nil
	}
}

// CleanExpired actively removes expired entries and returns how many were
// removed per namespace
func (c *Cache) CleanExpired() map[core.IntelType]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[core.IntelType]int, len(c.namespaces))
	now := time.Now()
	for kind, ns := range c.namespaces {
		count := 0
		kept := ns.order[:0]
		for _, key := range ns.order {
			entry, ok := ns.entries[key]
			if !ok {
				continue
			}
			if now.Sub(entry.InsertedAt) > ns.ttl {
				delete(ns.entries, key)
				count++
				continue
			}
			kept = append(kept, key)
		}
		ns.order = kept
		removed[kind] = count
	}

	if c.logger != nil {
		c.logger.Debug("Cleaned expired intel cache entries",
			zap.Int("url", removed[core.IntelURL]),
			zap.Int("domain", removed[core.IntelDomain]),
			zap.Int("ip", removed[core.IntelIP]))
	}
	return removed
}

// Stats returns per-namespace size and hit/miss counters
func (c *Cache) Stats() map[core.IntelType]NamespaceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[core.IntelType]NamespaceStats, len(c.namespaces))
	for kind, ns := range c.namespaces {
		stats[kind] = NamespaceStats{
			Size:    len(ns.entries),
			MaxSize: ns.maxSize,
			Hits:    ns.hits,
			Misses:  ns.misses,
		}
	}
	return stats
}
