package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/db"
)

// fakeShared is an in-memory SharedStore.
type fakeShared struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	scanErr error
	gets    int
	sets    int
}

func newFakeShared() *fakeShared {
	return &fakeShared{data: make(map[string][]byte)}
}

func (f *fakeShared) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeShared) SetWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeShared) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeShared) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, shared SharedStore) (*Cache, *fakeClock) {
	t.Helper()
	c, err := New(shared, Options{KeyPrefix: "test:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := newFakeClock()
	return c.WithClock(clock.Now), clock
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k1", []byte("payload"), time.Minute)

	got, ok := c.Get(ctx, "search:k1")
	if !ok || string(got) != "payload" {
		t.Errorf("Get = %q, %v; want payload, true", got, ok)
	}
}

func TestLogicalExpiry(t *testing.T) {
	c, clock := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k1", []byte("v"), time.Minute)

	clock.Advance(59 * time.Second)
	if _, ok := c.Get(ctx, "search:k1"); !ok {
		t.Error("entry expired before its TTL")
	}

	clock.Advance(2 * time.Second)
	if _, ok := c.Get(ctx, "search:k1"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestSharedTierRepopulatesFastTier(t *testing.T) {
	shared := newFakeShared()
	a, _ := newTestCache(t, shared)
	b, _ := newTestCache(t, shared)
	ctx := context.Background()

	// Written by one instance, visible to another through the shared tier.
	a.Set(ctx, "search:k1", []byte("v"), time.Minute)

	got, ok := b.Get(ctx, "search:k1")
	if !ok || string(got) != "v" {
		t.Fatalf("shared-tier read = %q, %v", got, ok)
	}

	// Second read is served from b's fast tier.
	gets := shared.gets
	if _, ok := b.Get(ctx, "search:k1"); !ok {
		t.Fatal("fast-tier re-read missed")
	}
	if shared.gets != gets {
		t.Error("second read hit the shared tier")
	}
}

func TestExpiryTravelsThroughSharedTier(t *testing.T) {
	shared := newFakeShared()
	a, _ := newTestCache(t, shared)
	b, clockB := newTestCache(t, shared)
	ctx := context.Background()

	a.Set(ctx, "search:k1", []byte("v"), time.Minute)

	// The envelope's logical expiry holds even if the shared tier still has
	// the bytes.
	clockB.Advance(2 * time.Minute)
	if _, ok := b.Get(ctx, "search:k1"); ok {
		t.Error("expired envelope served from shared tier")
	}
}

func TestSharedFailureFailsOpen(t *testing.T) {
	shared := newFakeShared()
	shared.getErr = errors.New("connection refused")
	shared.setErr = errors.New("connection refused")
	c, _ := newTestCache(t, shared)
	ctx := context.Background()

	// Set still lands in the fast tier.
	c.Set(ctx, "search:k1", []byte("v"), time.Minute)
	if got, ok := c.Get(ctx, "search:k1"); !ok || string(got) != "v" {
		t.Errorf("fast tier should serve despite shared failure, got %q, %v", got, ok)
	}

	// Unknown key is a plain miss, not an error.
	if _, ok := c.Get(ctx, "search:absent"); ok {
		t.Error("miss expected")
	}
}

func TestInvalidatePatternRespectsCategories(t *testing.T) {
	shared := newFakeShared()
	c, _ := newTestCache(t, shared)
	ctx := context.Background()

	c.Set(ctx, "search:k1", []byte("a"), time.Minute)
	c.Set(ctx, "search:k2", []byte("b"), time.Minute)
	c.Set(ctx, "facets:k1", []byte("c"), time.Minute)

	n := c.InvalidatePattern(ctx, "search:*")
	if n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}

	if _, ok := c.Get(ctx, "search:k1"); ok {
		t.Error("search:k1 should be gone")
	}
	if _, ok := c.Get(ctx, "search:k2"); ok {
		t.Error("search:k2 should be gone")
	}
	if _, ok := c.Get(ctx, "facets:k1"); !ok {
		t.Error("facets:k1 should survive a search:* invalidation")
	}
}

func TestInvalidatePatternRejectsInnerWildcard(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k1", []byte("a"), time.Minute)
	if n := c.InvalidatePattern(ctx, "sea*ch:*"); n != 0 {
		t.Errorf("inner wildcard should invalidate nothing, got %d", n)
	}
	if _, ok := c.Get(ctx, "search:k1"); !ok {
		t.Error("entry should survive a rejected pattern")
	}
}

func TestClearSweepsAllCategories(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k", []byte("a"), time.Minute)
	c.Set(ctx, "facets:k", []byte("b"), time.Minute)
	c.Set(ctx, "suggest:k", []byte("c"), time.Minute)
	c.Set(ctx, "popular:k", []byte("d"), time.Minute)

	if n := c.Clear(ctx); n != 4 {
		t.Errorf("Clear() = %d, want 4", n)
	}
	if c.Stats().EntryCount != 0 {
		t.Errorf("EntryCount = %d after Clear", c.Stats().EntryCount)
	}
}

func TestStatsAccounting(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:hot", []byte("v"), time.Minute)
	c.Get(ctx, "search:hot")
	c.Get(ctx, "search:hot")
	c.Get(ctx, "search:cold")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("HitRate = %g", s.HitRate)
	}
	if len(s.PopularKeys) == 0 || s.PopularKeys[0] != "search:hot" {
		t.Errorf("PopularKeys = %v, want search:hot first", s.PopularKeys)
	}
	if s.SizeBytes != 1 {
		t.Errorf("SizeBytes = %d, want 1", s.SizeBytes)
	}
}

func TestHasDoesNotCountAccounting(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k", []byte("v"), time.Minute)
	c.Has(ctx, "search:k")
	c.Has(ctx, "search:absent")

	s := c.Stats()
	if s.Hits != 0 || s.Misses != 0 {
		t.Errorf("Has must not count hits/misses, got %d/%d", s.Hits, s.Misses)
	}
}

func TestGetJSONRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	type payload struct {
		IDs []string `json:"ids"`
	}
	c.SetCategory(ctx, "search:k", payload{IDs: []string{"a", "b"}}, CategorySearch)

	var got payload
	if !c.GetJSON(ctx, "search:k", &got) {
		t.Fatal("GetJSON missed")
	}
	if len(got.IDs) != 2 || got.IDs[0] != "a" {
		t.Errorf("GetJSON payload = %+v", got)
	}
}

func TestCategoryTTLsDiffer(t *testing.T) {
	c, clock := newTestCache(t, nil)
	ctx := context.Background()

	c.SetCategory(ctx, "search:k", "v", CategorySearch)
	c.SetCategory(ctx, "facets:k", "v", CategoryFacets)

	// Past the search TTL but inside the facets TTL.
	clock.Advance(DefaultSearchTTL + time.Second)

	if _, ok := c.Get(ctx, "search:k"); ok {
		t.Error("search entry should expire at its category TTL")
	}
	if _, ok := c.Get(ctx, "facets:k"); !ok {
		t.Error("facets entry should outlive the search TTL")
	}
}

func TestOverwriteReleasesOldPayloadSize(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "search:k1", []byte("0123456789"), time.Minute)
	c.Set(ctx, "search:k1", []byte("abc"), time.Minute)
	c.Set(ctx, "search:k1", []byte("abc"), time.Minute)

	if got := c.Stats().SizeBytes; got != 3 {
		t.Errorf("SizeBytes = %d after overwrites, want 3", got)
	}

	c.InvalidatePattern(ctx, "search:*")
	if got := c.Stats().SizeBytes; got != 0 {
		t.Errorf("SizeBytes = %d after invalidation, want 0", got)
	}
}
