package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/content"
	"github.com/pressfeed/searchcore/internal/domain/search/filter"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/index"
	"github.com/pressfeed/searchcore/internal/ranker"
	"github.com/pressfeed/searchcore/internal/retriever"
)

var searchNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// axisEmbedder maps texts onto fixed axes by keyword so retrieval outcomes
// are predictable without a provider.
type axisEmbedder struct {
	err error
}

func (e *axisEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "api"):
		return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}, nil
	case strings.Contains(t, "weather"):
		return domain.EmbeddingResult{Embedding: []float32{0, 1, 0}}, nil
	default:
		return domain.EmbeddingResult{Embedding: []float32{0, 0, 1}}, nil
	}
}

// fakeResultCache is an in-memory ResultCache with write tracking.
type fakeResultCache struct {
	data map[string][]byte
	sets int
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{data: make(map[string][]byte)}
}

func (c *fakeResultCache) GetJSON(_ context.Context, key string, v any) bool {
	raw, ok := c.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (c *fakeResultCache) SetCategory(_ context.Context, key string, v any, _ cache.Category) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.data[key] = raw
	c.sets++
}

// countingRetriever delegates while counting calls.
type countingRetriever struct {
	inner Retriever
	calls int
}

func (r *countingRetriever) Retrieve(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	m mode.Mode,
	limit int,
) ([]retriever.Candidate, string, error) {
	r.calls++
	return r.inner.Retrieve(ctx, snap, allowed, q, m, limit)
}

func addItem(t *testing.T, idx *index.Index, id, title, preview, source string, quality int, publishedAt *time.Time) {
	t.Helper()
	item, err := content.New(id, title, preview, "https://example.com/"+id, source, publishedAt, quality, "en", false, nil)
	if err != nil {
		t.Fatalf("content.New(%s): %v", id, err)
	}
	if err := idx.Add(context.Background(), item); err != nil {
		t.Fatalf("index.Add(%s): %v", id, err)
	}
}

// newTestIndex indexes the three-item corpus most tests run against: a fresh
// high-quality Visa item, a month-old low-quality weather item, and a
// day-old Mastercard item.
func newTestIndex(t *testing.T, embedder domain.Embedder) *index.Index {
	t.Helper()
	idx := index.New(embedder, nil, zap.NewNop())
	nowish := searchNow
	monthAgo := searchNow.Add(-30 * 24 * time.Hour)
	dayAgo := searchNow.Add(-24 * time.Hour)

	addItem(t, idx, "a", "Visa launches new API", "visa ships a new api for merchants", "visa-news", 80, &nowish)
	addItem(t, idx, "b", "Weather report", "sunny with light winds", "weather-daily", 10, &monthAgo)
	addItem(t, idx, "c", "Mastercard API security update", "mastercard patches its api gateway", "mastercard-news", 60, &dayAgo)
	return idx
}

func newTestService(t *testing.T, idx *index.Index, embedder domain.Embedder, resultCache ResultCache) *Service {
	t.Helper()
	retr := retriever.New(embedder, nil, zap.NewNop())
	rk := ranker.New().WithClock(func() time.Time { return searchNow })
	return New(idx, retr, rk, resultCache, zap.NewNop()).
		WithClock(func() time.Time { return searchNow })
}

func mustRequest(
	t *testing.T,
	q string,
	m mode.Mode,
	f filter.Filter,
	page, pageSize int,
	sortBy request.SortBy,
	sortOrder request.SortOrder,
	highlight bool,
) *request.Request {
	t.Helper()
	req, err := request.New(q, m, f, page, pageSize, sortBy, sortOrder, highlight)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return &req
}

func resultIDs(resp result.Response) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ContentID
	}
	return ids
}

func TestSearchHybridEndToEnd(t *testing.T) {
	emb := &axisEmbedder{}
	svc := newTestService(t, newTestIndex(t, emb), emb, newFakeResultCache())

	req := mustRequest(t, "API", mode.Hybrid, filter.New(), 0, 0, "", "", false)
	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	ids := resultIDs(resp)
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want the two api items", ids)
	}
	for _, id := range ids {
		if id == "b" {
			t.Error("weather item surfaced for query 'API'")
		}
	}
	if ids[0] != "a" && ids[0] != "c" {
		t.Errorf("first result = %s, want a or c", ids[0])
	}
	if resp.CacheHit {
		t.Error("first search reported a cache hit")
	}
	if resp.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", resp.TotalCount)
	}
	if resp.Degraded {
		t.Errorf("degraded = true, reason %q", resp.DegradedReason)
	}

	// Facets describe the whole filtered universe, not the scored hits.
	wantSources := map[string]int{"visa-news": 1, "weather-daily": 1, "mastercard-news": 1}
	for src, n := range wantSources {
		if resp.Facets.Sources[src] != n {
			t.Errorf("facets.sources[%s] = %d, want %d", src, resp.Facets.Sources[src], n)
		}
	}
	if resp.Facets.DateRanges["older"] != 1 {
		t.Errorf("facets.date_ranges[older] = %d, want 1 (the weather item)", resp.Facets.DateRanges["older"])
	}
	if resp.Facets.ScoreRanges["75+"] != 1 || resp.Facets.ScoreRanges["50-74"] != 1 || resp.Facets.ScoreRanges["0-24"] != 1 {
		t.Errorf("facets.score_ranges = %v", resp.Facets.ScoreRanges)
	}
}

func TestSearchSecondCallHitsCache(t *testing.T) {
	emb := &axisEmbedder{}
	idx := newTestIndex(t, emb)
	rc := newFakeResultCache()
	counting := &countingRetriever{inner: retriever.New(emb, nil, zap.NewNop())}
	rk := ranker.New().WithClock(func() time.Time { return searchNow })
	svc := New(idx, counting, rk, rc, zap.NewNop()).WithClock(func() time.Time { return searchNow })

	req := mustRequest(t, "api", mode.Hybrid, filter.New(), 0, 0, "", "", false)
	first, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	second, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}

	if first.CacheHit || !second.CacheHit {
		t.Errorf("cache hits = %v, %v; want false, true", first.CacheHit, second.CacheHit)
	}
	if counting.calls != 1 {
		t.Errorf("retriever called %d times, want 1", counting.calls)
	}
	if len(first.Results) != len(second.Results) {
		t.Fatalf("cached response has %d results, original %d", len(second.Results), len(first.Results))
	}
	for i := range first.Results {
		if first.Results[i].ContentID != second.Results[i].ContentID {
			t.Errorf("result %d: %s vs %s", i, first.Results[i].ContentID, second.Results[i].ContentID)
		}
	}
}

func TestSearchCachesFullSetPaginatesOnRead(t *testing.T) {
	emb := &axisEmbedder{}
	rc := newFakeResultCache()
	svc := newTestService(t, newTestIndex(t, emb), emb, rc)
	ctx := context.Background()

	page1, err := svc.Search(ctx, mustRequest(t, "api", mode.Hybrid, filter.New(), 1, 1, "", "", false))
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	page2, err := svc.Search(ctx, mustRequest(t, "api", mode.Hybrid, filter.New(), 2, 1, "", "", false))
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	past, err := svc.Search(ctx, mustRequest(t, "api", mode.Hybrid, filter.New(), 9, 1, "", "", false))
	if err != nil {
		t.Fatalf("page past end: %v", err)
	}

	if rc.sets != 1 {
		t.Errorf("cache writes = %d, want 1 (pagination must not fragment the cache)", rc.sets)
	}
	if !page2.CacheHit || !past.CacheHit {
		t.Error("later pages should be served from the cached full set")
	}
	if len(page1.Results) != 1 || len(page2.Results) != 1 {
		t.Fatalf("page sizes = %d, %d; want 1, 1", len(page1.Results), len(page2.Results))
	}
	if page1.Results[0].ContentID == page2.Results[0].ContentID {
		t.Error("pages overlap")
	}
	if page1.TotalCount != 2 || page2.TotalCount != 2 || past.TotalCount != 2 {
		t.Errorf("total counts = %d, %d, %d; want 2", page1.TotalCount, page2.TotalCount, past.TotalCount)
	}
	if len(past.Results) != 0 {
		t.Errorf("page past the end returned %d results", len(past.Results))
	}
}

func TestBrowseWithoutQuerySkipsCache(t *testing.T) {
	emb := &axisEmbedder{}
	rc := newFakeResultCache()
	svc := newTestService(t, newTestIndex(t, emb), emb, rc)

	resp, err := svc.Search(context.Background(), mustRequest(t, "", mode.Hybrid, filter.New(), 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if rc.sets != 0 {
		t.Errorf("filter-only browse wrote %d cache entries", rc.sets)
	}
	// Relevance over an empty query falls back to newest first.
	want := []string{"a", "c", "b"}
	got := resultIDs(resp)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("suggestions = %v for an empty query", resp.Suggestions)
	}
	if resp.CacheHit {
		t.Error("browse reported a cache hit")
	}
}

func TestFiltersExcludeBeforeScoring(t *testing.T) {
	emb := &axisEmbedder{}
	svc := newTestService(t, newTestIndex(t, emb), emb, newFakeResultCache())

	f := filter.New().WithSources("mastercard-news")
	resp, err := svc.Search(context.Background(), mustRequest(t, "api", mode.Hybrid, f, 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got := resultIDs(resp); len(got) != 1 || got[0] != "c" {
		t.Errorf("ids = %v, want [c]; the visa item is filtered out despite matching", got)
	}
	if len(resp.Facets.Sources) != 1 {
		t.Errorf("facets cover %v, want only the filtered universe", resp.Facets.Sources)
	}
	if len(resp.AppliedFilters) == 0 {
		t.Error("applied filters missing from the response")
	}
}

func TestScoreBoundsApplyToFinalScore(t *testing.T) {
	emb := &axisEmbedder{}
	svc := newTestService(t, newTestIndex(t, emb), emb, newFakeResultCache())

	high := 0.99
	f := filter.New().WithScoreBounds(&high, nil)
	resp, err := svc.Search(context.Background(), mustRequest(t, "api", mode.Hybrid, f, 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 0 {
		t.Errorf("results above min_score 0.99: %v", resultIDs(resp))
	}
	// The bounds drop results, not the facet universe.
	if len(resp.Facets.Sources) != 3 {
		t.Errorf("facets.sources = %v, want all three items", resp.Facets.Sources)
	}
}

func TestSortModes(t *testing.T) {
	emb := &axisEmbedder{}
	idx := newTestIndex(t, emb)

	tests := []struct {
		name  string
		by    request.SortBy
		order request.SortOrder
		want  []string
	}{
		{"date desc", request.SortDate, request.OrderDesc, []string{"a", "c"}},
		{"date asc", request.SortDate, request.OrderAsc, []string{"c", "a"}},
		{"score desc ranks by quality", request.SortScore, request.OrderDesc, []string{"a", "c"}},
		{"score asc", request.SortScore, request.OrderAsc, []string{"c", "a"}},
		{"title asc", request.SortTitle, request.OrderAsc, []string{"c", "a"}},
		{"title desc", request.SortTitle, request.OrderDesc, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, idx, emb, newFakeResultCache())
			resp, err := svc.Search(context.Background(),
				mustRequest(t, "api", mode.Hybrid, filter.New(), 0, 0, tt.by, tt.order, false))
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			got := resultIDs(resp)
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDateSortPutsUndatedLast(t *testing.T) {
	emb := &axisEmbedder{}
	idx := newTestIndex(t, emb)
	addItem(t, idx, "d", "Undated API notes", "api notes with no date", "misc", 40, nil)

	for _, order := range []request.SortOrder{request.OrderAsc, request.OrderDesc} {
		t.Run(string(order), func(t *testing.T) {
			svc := newTestService(t, idx, emb, newFakeResultCache())
			resp, err := svc.Search(context.Background(),
				mustRequest(t, "api", mode.Hybrid, filter.New(), 0, 0, request.SortDate, order, false))
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			got := resultIDs(resp)
			if len(got) == 0 || got[len(got)-1] != "d" {
				t.Errorf("order %s: ids = %v, want the undated item last", order, got)
			}
		})
	}
}

func TestDegradedSearchFallsBackAndReports(t *testing.T) {
	// Index built with a working provider, queries served with a broken one.
	idx := newTestIndex(t, &axisEmbedder{})
	broken := &axisEmbedder{err: errors.New("provider down")}
	svc := newTestService(t, idx, broken, newFakeResultCache())

	resp, err := svc.Search(context.Background(),
		mustRequest(t, "api", mode.Semantic, filter.New(), 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("degraded search must not fail: %v", err)
	}

	if !resp.Degraded || resp.DegradedReason != retriever.DegradedEmbedding {
		t.Errorf("degraded = %v (%q), want embedding degradation", resp.Degraded, resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		t.Error("keyword fallback returned nothing")
	}
}

func TestSuggestionsShareQueryTokens(t *testing.T) {
	emb := &axisEmbedder{}
	svc := newTestService(t, newTestIndex(t, emb), emb, newFakeResultCache())

	resp, err := svc.Search(context.Background(),
		mustRequest(t, "visa", mode.Keyword, filter.New(), 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Suggestions) != 1 || resp.Suggestions[0] != "Visa launches new API" {
		t.Errorf("suggestions = %v", resp.Suggestions)
	}
}

func TestHighlightsComputedPerPageNeverCached(t *testing.T) {
	emb := &axisEmbedder{}
	rc := newFakeResultCache()
	svc := newTestService(t, newTestIndex(t, emb), emb, rc)

	resp, err := svc.Search(context.Background(),
		mustRequest(t, "api", mode.Hybrid, filter.New(), 0, 0, "", "", true))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range resp.Results {
		if len(r.Highlights) == 0 {
			t.Errorf("result %s has no highlights", r.ContentID)
		}
	}
	for key, raw := range rc.data {
		if strings.Contains(string(raw), `"highlights"`) {
			t.Errorf("cached set %s contains highlights", key)
		}
	}
}

func TestSearchWithoutCache(t *testing.T) {
	emb := &axisEmbedder{}
	svc := newTestService(t, newTestIndex(t, emb), emb, nil)

	resp, err := svc.Search(context.Background(),
		mustRequest(t, "api", mode.Hybrid, filter.New(), 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search with nil cache: %v", err)
	}
	if len(resp.Results) != 2 || resp.CacheHit {
		t.Errorf("results = %v, cache hit = %v", resultIDs(resp), resp.CacheHit)
	}
}

func TestSearchDeterministicAcrossRuns(t *testing.T) {
	emb := &axisEmbedder{}
	idx := newTestIndex(t, emb)

	first, err := newTestService(t, idx, emb, nil).Search(context.Background(),
		mustRequest(t, "api update", mode.Hybrid, filter.New(), 0, 0, "", "", false))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := newTestService(t, idx, emb, nil).Search(context.Background(),
			mustRequest(t, "api update", mode.Hybrid, filter.New(), 0, 0, "", "", false))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(again.Results) != len(first.Results) {
			t.Fatalf("run %d: %d results vs %d", i, len(again.Results), len(first.Results))
		}
		for j := range again.Results {
			if again.Results[j].ContentID != first.Results[j].ContentID ||
				again.Results[j].Score != first.Results[j].Score {
				t.Fatalf("run %d diverged at %d", i, j)
			}
		}
	}
}
