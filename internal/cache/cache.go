// Package cache provides the tiered result cache: an in-process bounded LRU
// fast tier backed by a shared external store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/db"
)

// DefaultCapacity bounds the fast tier entry count.
const DefaultCapacity = 1024

// DefaultSharedTimeout bounds each shared-tier call. Shared-tier timeouts
// fail open: a slow shared store is a miss, never a stalled request.
const DefaultSharedTimeout = 150 * time.Millisecond

// popularKeysLimit caps how many keys Stats reports.
const popularKeysLimit = 10

// SharedStore is the consumer interface for the shared tier.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
}

// entry is the stored envelope. The logical expiry travels with the payload
// so the fast tier honors it even when re-populated from the shared tier.
type entry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *entry) expired(now time.Time) bool { return !e.ExpiresAt.After(now) }

// Stats is a point-in-time snapshot of cache accounting.
type Stats struct {
	Hits        int64          `json:"hits"`
	Misses      int64          `json:"misses"`
	HitRate     float64        `json:"hit_rate"`
	MissRate    float64        `json:"miss_rate"`
	EntryCount  int            `json:"entry_count"`
	SizeBytes   int64          `json:"size_bytes"`
	PopularKeys []string       `json:"popular_keys"`
	TTLs        map[string]int `json:"ttl_seconds"`
}

// Cache is the tiered cache. The fast tier is non-blocking; shared-tier
// calls carry their own short timeout and fail open. Cache entries are
// derived data, so last-write-wins between concurrent writers is fine.
type Cache struct {
	fast          *lru.Cache[string, *entry]
	shared        SharedStore
	ttls          map[Category]time.Duration
	sharedTimeout time.Duration
	keyPrefix     string
	now           func() time.Time
	logger        *zap.Logger
	opsTotal      *prometheus.CounterVec

	hits      atomic.Int64
	misses    atomic.Int64
	sizeBytes atomic.Int64

	hitMu     sync.Mutex
	hitCounts map[string]int64
}

// Options configure optional cache behavior.
type Options struct {
	Capacity      int
	SharedTimeout time.Duration
	KeyPrefix     string
	TTLs          map[Category]time.Duration
	// OpsTotal is a counter vec with labels "tier" and "result".
	OpsTotal *prometheus.CounterVec
}

// New creates a tiered cache. shared may be nil: the cache then runs
// in-process only, which is also the degraded mode on shared-tier failure.
func New(shared SharedStore, opts Options, logger *zap.Logger) (*Cache, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	timeout := opts.SharedTimeout
	if timeout <= 0 {
		timeout = DefaultSharedTimeout
	}

	ttls := map[Category]time.Duration{
		CategorySearch:  DefaultSearchTTL,
		CategoryFacets:  DefaultFacetsTTL,
		CategorySuggest: DefaultSuggestTTL,
		CategoryPopular: DefaultPopularTTL,
	}
	for cat, ttl := range opts.TTLs {
		if cat.IsValid() && ttl > 0 {
			ttls[cat] = ttl
		}
	}

	c := &Cache{
		shared:        shared,
		ttls:          ttls,
		sharedTimeout: timeout,
		keyPrefix:     opts.KeyPrefix,
		now:           time.Now,
		logger:        logger,
		opsTotal:      opts.OpsTotal,
		hitCounts:     make(map[string]int64),
	}

	fast, err := lru.NewWithEvict[string, *entry](capacity, func(_ string, e *entry) {
		c.sizeBytes.Add(-int64(len(e.Payload)))
	})
	if err != nil {
		return nil, err
	}
	c.fast = fast
	return c, nil
}

// WithClock overrides the time source (tests).
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the configured TTL for a category.
func (c *Cache) TTL(cat Category) time.Duration { return c.ttls[cat] }

// Get returns the cached payload for key. The fast tier is checked first; on
// a fast-tier miss the shared tier is consulted and, on hit, the fast tier
// is re-populated. An entry past its logical expiry is absent regardless of
// physical presence.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	if e, ok := c.fast.Get(key); ok {
		if !e.expired(now) {
			c.recordHit(key, "fast")
			return e.Payload, true
		}
		c.fast.Remove(key)
	}

	if e, ok := c.sharedGet(ctx, key); ok && !e.expired(now) {
		c.fastAdd(key, e)
		c.recordHit(key, "shared")
		return e.Payload, true
	}

	c.misses.Add(1)
	c.inc("any", "miss")
	return nil, false
}

// Has reports whether key resolves without counting a hit or miss.
func (c *Cache) Has(ctx context.Context, key string) bool {
	now := c.now()
	if e, ok := c.fast.Peek(key); ok && !e.expired(now) {
		return true
	}
	e, ok := c.sharedGet(ctx, key)
	return ok && !e.expired(now)
}

// Set writes the payload to both tiers. A shared-tier write failure is
// logged and swallowed; local-only caching degrades gracefully.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	now := c.now()
	e := &entry{Payload: payload, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	c.fastAdd(key, e)

	if c.shared == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache entry marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.sharedTimeout)
	defer cancel()
	if err := c.shared.SetWithTTL(sctx, c.keyPrefix+key, data, ttl); err != nil {
		c.logger.Warn("shared cache write failed, local-only", zap.String("key", key), zap.Error(err))
	}
}

// SetCategory marshals v and stores it under the category's configured TTL.
func (c *Cache) SetCategory(ctx context.Context, key string, v any, cat Category) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache payload marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.Set(ctx, key, data, c.ttls[cat])
}

// GetJSON unmarshals a cached payload into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("cache payload unmarshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// InvalidatePattern removes entries matching a trailing-wildcard glob
// (for example "search:*") from both tiers and returns the count removed
// from the fast tier plus shared-only keys.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	prefix, ok := globPrefix(pattern)
	if !ok {
		return 0
	}

	removed := 0
	seen := make(map[string]struct{})
	for _, key := range c.fast.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.fast.Remove(key)
			seen[key] = struct{}{}
			removed++
		}
	}

	if c.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, c.sharedTimeout)
		keys, err := c.shared.Scan(sctx, c.keyPrefix+prefix+"*")
		cancel()
		if err != nil {
			c.logger.Warn("shared cache scan failed", zap.String("pattern", pattern), zap.Error(err))
			return removed
		}
		for _, full := range keys {
			key := strings.TrimPrefix(full, c.keyPrefix)
			dctx, cancel := context.WithTimeout(ctx, c.sharedTimeout)
			err := c.shared.Del(dctx, full)
			cancel()
			if err != nil {
				c.logger.Warn("shared cache delete failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if _, dup := seen[key]; !dup {
				removed++
			}
		}
	}

	c.hitMu.Lock()
	for key := range c.hitCounts {
		if strings.HasPrefix(key, prefix) {
			delete(c.hitCounts, key)
		}
	}
	c.hitMu.Unlock()

	return removed
}

// InvalidateCategory clears one category namespace.
func (c *Cache) InvalidateCategory(ctx context.Context, cat Category) int {
	return c.InvalidatePattern(ctx, string(cat)+":*")
}

// Clear drops every entry in every category.
func (c *Cache) Clear(ctx context.Context) int {
	n := 0
	for _, cat := range []Category{CategorySearch, CategoryFacets, CategorySuggest, CategoryPopular} {
		n += c.InvalidateCategory(ctx, cat)
	}
	return n
}

// Stats returns hit/miss accounting and the most-requested keys.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := Stats{
		Hits:       hits,
		Misses:     misses,
		EntryCount: c.fast.Len(),
		SizeBytes:  c.sizeBytes.Load(),
		TTLs:       make(map[string]int, len(c.ttls)),
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.MissRate = float64(misses) / float64(total)
	}
	for cat, ttl := range c.ttls {
		s.TTLs[string(cat)] = int(ttl.Seconds())
	}
	s.PopularKeys = c.popularKeys()
	return s
}

func (c *Cache) popularKeys() []string {
	c.hitMu.Lock()
	defer c.hitMu.Unlock()

	type kc struct {
		key   string
		count int64
	}
	all := make([]kc, 0, len(c.hitCounts))
	for k, n := range c.hitCounts {
		all = append(all, kc{k, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if len(all) > popularKeysLimit {
		all = all[:popularKeysLimit]
	}
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.key
	}
	return keys
}

// fastAdd stores e in the fast tier. Overwriting an existing key updates the
// lru entry in place without firing the evict callback, so the old payload's
// size is released here.
func (c *Cache) fastAdd(key string, e *entry) {
	if old, ok := c.fast.Peek(key); ok {
		c.sizeBytes.Add(-int64(len(old.Payload)))
	}
	c.fast.Add(key, e)
	c.sizeBytes.Add(int64(len(e.Payload)))
}

func (c *Cache) sharedGet(ctx context.Context, key string) (*entry, bool) {
	if c.shared == nil {
		return nil, false
	}
	sctx, cancel := context.WithTimeout(ctx, c.sharedTimeout)
	defer cancel()

	data, err := c.shared.Get(sctx, c.keyPrefix+key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("shared cache read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("shared cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &e, true
}

func (c *Cache) recordHit(key, tier string) {
	c.hits.Add(1)
	c.inc(tier, "hit")
	c.hitMu.Lock()
	c.hitCounts[key]++
	c.hitMu.Unlock()
}

func (c *Cache) inc(tier, outcome string) {
	if c.opsTotal != nil {
		c.opsTotal.WithLabelValues(tier, outcome).Inc()
	}
}

// globPrefix extracts the fixed prefix from a trailing-wildcard glob.
func globPrefix(pattern string) (string, bool) {
	if pattern == "" {
		return "", false
	}
	if !strings.HasSuffix(pattern, "*") {
		return pattern, true // exact-key invalidation
	}
	prefix := strings.TrimSuffix(pattern, "*")
	if strings.Contains(prefix, "*") {
		return "", false // only trailing wildcards are supported
	}
	return prefix, true
}
