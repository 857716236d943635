package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/filter"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/index"
	"github.com/pressfeed/searchcore/internal/metrics"
)

// MaxCandidates bounds how many scored candidates the retriever produces
// before ranking. The full ranked set below this bound is cached whole and
// paginated on read.
const MaxCandidates = 500

// Service orchestrates the search pipeline: cache lookup, filtering,
// retrieval, ranking, faceting, and pagination.
type Service struct {
	idx    IndexReader
	retr   Retriever
	ranker Ranker
	cache  ResultCache
	logger *zap.Logger
	now    func() time.Time
}

// New creates a search service. Cache may be nil, which disables result
// caching entirely.
func New(idx IndexReader, retr Retriever, ranker Ranker, resultCache ResultCache, logger *zap.Logger) *Service {
	return &Service{
		idx:    idx,
		retr:   retr,
		ranker: ranker,
		cache:  resultCache,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// resultSet is the cached unit: the full ranked set plus everything derived
// from it that does not depend on pagination.
type resultSet struct {
	Ranked         []result.Ranked `json:"ranked"`
	Facets         result.Facets   `json:"facets"`
	Suggestions    []string        `json:"suggestions,omitempty"`
	Degraded       bool            `json:"degraded"`
	DegradedReason string          `json:"degraded_reason,omitempty"`
}

// Search runs the full pipeline for one request. Filters are applied before
// any scoring so an excluded item can never surface regardless of text
// relevance. Only requests with a non-empty query touch the cache: the
// cardinality of filter-only browsing is unbounded.
func (s *Service) Search(ctx context.Context, req *request.Request) (result.Response, error) {
	start := s.now()
	q := query.New(req.Query())

	var key string
	if !q.IsEmpty() && s.cache != nil {
		key = cache.Key(
			cache.CategorySearch,
			q.Normalized(),
			req.Filters().CanonicalFields(),
			req.SettingsFields(),
			string(req.Mode()),
		)
		var cached resultSet
		if s.cache.GetJSON(ctx, key, &cached) {
			resp := s.respond(ctx, req, q, &cached, start)
			resp.CacheHit = true
			s.observe(req, start, true)
			return resp, nil
		}
	}

	snap := s.idx.Snapshot()
	allowed := filterEntries(snap, req.Filters())

	set := resultSet{
		Facets: buildFacets(allowed, s.now()),
	}

	if q.IsEmpty() {
		set.Ranked = s.ranker.Rank(q, browseCandidates(allowed))
	} else {
		candidates, degraded, err := s.retr.Retrieve(ctx, snap, allowed, q, req.Mode(), MaxCandidates)
		if err != nil {
			return result.Response{}, fmt.Errorf("%w: %w", domain.ErrSearchFailed, err)
		}
		if degraded != "" {
			set.Degraded = true
			set.DegradedReason = degraded
			metrics.SearchDegradedTotal.WithLabelValues(degraded).Inc()
			s.logger.Warn("search degraded",
				zap.String("reason", degraded),
				zap.String("mode", string(req.Mode())))
		}
		set.Ranked = s.ranker.Rank(q, candidates)
		set.Suggestions = buildSuggestions(allowed, q)
	}

	set.Ranked = applyScoreBounds(set.Ranked, req.Filters())
	applySort(set.Ranked, req.SortBy(), req.SortOrder(), q.IsEmpty())

	if key != "" {
		s.cache.SetCategory(ctx, key, &set, cache.CategorySearch)
	}

	resp := s.respond(ctx, req, q, &set, start)
	s.observe(req, start, false)
	return resp, nil
}

// respond paginates the ranked set and assembles the response envelope.
// Highlights are computed per page so they never inflate the cached set.
func (s *Service) respond(
	_ context.Context, req *request.Request, q query.Query, set *resultSet, start time.Time,
) result.Response {
	total := len(set.Ranked)
	offset := (req.Page() - 1) * req.PageSize()

	var page []result.Ranked
	if offset < total {
		end := offset + req.PageSize()
		if end > total {
			end = total
		}
		page = make([]result.Ranked, end-offset)
		copy(page, set.Ranked[offset:end])
	} else {
		page = []result.Ranked{}
	}

	if req.Highlight() && !q.IsEmpty() {
		snap := s.idx.Snapshot()
		for i := range page {
			page[i].Highlights = buildHighlights(snap, page[i].ContentID, q)
		}
	}

	return result.Response{
		Results:        page,
		TotalCount:     total,
		Page:           req.Page(),
		PageSize:       req.PageSize(),
		ElapsedMS:      s.now().Sub(start).Milliseconds(),
		Facets:         set.Facets,
		Suggestions:    set.Suggestions,
		AppliedFilters: req.Filters().CanonicalFields(),
		Degraded:       set.Degraded,
		DegradedReason: set.DegradedReason,
	}
}

func (s *Service) observe(req *request.Request, start time.Time, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	metrics.SearchDuration.
		WithLabelValues(string(req.Mode()), outcome).
		Observe(s.now().Sub(start).Seconds())
}

// filterEntries returns the snapshot entries passing every filter constraint
// except the relevance score bounds, preserving snapshot (id) order.
func filterEntries(snap *index.Snapshot, f filter.Filter) []*index.Entry {
	allowed := make([]*index.Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if f.Matches(&e.Item) {
			allowed = append(allowed, e)
		}
	}
	return allowed
}

// applyScoreBounds drops ranked results outside the inclusive relevance
// score bounds. Runs after fusion because the bounds constrain the final
// score, not any single channel.
func applyScoreBounds(ranked []result.Ranked, f filter.Filter) []result.Ranked {
	if minScore, maxScore := f.ScoreBounds(); minScore == nil && maxScore == nil {
		return ranked
	}
	kept := ranked[:0]
	for _, r := range ranked {
		if f.MatchesScore(r.Score) {
			kept = append(kept, r)
		}
	}
	return kept
}

// applySort reorders ranked results in place. Relevance keeps the fused
// ordering; without a query it falls back to date, since every relevance
// score would be identical. All orderings break ties by content id so
// pagination is stable.
func applySort(ranked []result.Ranked, by request.SortBy, order request.SortOrder, queryEmpty bool) {
	if by == request.SortRelevance && queryEmpty {
		by = request.SortDate
	}

	desc := order == request.OrderDesc

	switch by {
	case request.SortRelevance:
		if !desc {
			reverse(ranked)
		}
	case request.SortDate:
		sort.SliceStable(ranked, func(i, j int) bool {
			pi, pj := ranked[i].PublishedAt, ranked[j].PublishedAt
			if (pi == nil) != (pj == nil) {
				// undated items sort last in either direction
				return pj == nil
			}
			if pi != nil && !pi.Equal(*pj) {
				if desc {
					return pi.After(*pj)
				}
				return pi.Before(*pj)
			}
			return ranked[i].ContentID < ranked[j].ContentID
		})
	case request.SortScore:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Components.Quality != ranked[j].Components.Quality {
				return lessFor(compareFloats(ranked[i].Components.Quality, ranked[j].Components.Quality), desc)
			}
			return ranked[i].ContentID < ranked[j].ContentID
		})
	case request.SortTitle:
		sort.SliceStable(ranked, func(i, j int) bool {
			ti, tj := strings.ToLower(ranked[i].Title), strings.ToLower(ranked[j].Title)
			if ti != tj {
				if desc {
					return ti > tj
				}
				return ti < tj
			}
			return ranked[i].ContentID < ranked[j].ContentID
		})
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func lessFor(cmp int, desc bool) bool {
	if desc {
		return cmp > 0
	}
	return cmp < 0
}

func reverse(ranked []result.Ranked) {
	for i, j := 0, len(ranked)-1; i < j; i, j = i+1, j-1 {
		ranked[i], ranked[j] = ranked[j], ranked[i]
	}
}
