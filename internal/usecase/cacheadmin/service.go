package cacheadmin

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/filter"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
)

// MaxWarmQueries bounds a single precompute request.
const MaxWarmQueries = 100

// Service exposes cache operations for operators: clearing, pattern
// invalidation, stats, and warming popular queries ahead of demand.
type Service struct {
	store    Store
	searcher Searcher
	warmer   Warmer
	logger   *zap.Logger
}

// New creates a cache admin service.
func New(store Store, searcher Searcher, warmer Warmer, logger *zap.Logger) *Service {
	return &Service{store: store, searcher: searcher, warmer: warmer, logger: logger}
}

// Clear drops every cached entry across all categories and tiers.
func (s *Service) Clear(ctx context.Context) int {
	n := s.store.Clear(ctx)
	s.logger.Info("cache cleared", zap.Int("entries", n))
	return n
}

// InvalidateCategory drops all entries of one category.
func (s *Service) InvalidateCategory(ctx context.Context, raw string) (int, error) {
	cat := cache.Category(raw)
	if !cat.IsValid() {
		return 0, domain.NewValidation("category", fmt.Sprintf("unknown category %q", raw))
	}
	return s.store.InvalidateCategory(ctx, cat), nil
}

// InvalidatePattern drops entries matching a category-qualified glob with a
// trailing wildcard, e.g. "search:*". The category prefix is required so a
// pattern can never sweep across namespaces.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	head, _, found := strings.Cut(pattern, ":")
	if !found || !cache.Category(head).IsValid() {
		return 0, domain.NewValidation("pattern", "must be prefixed with a known category, e.g. search:*")
	}
	return s.store.InvalidatePattern(ctx, pattern), nil
}

// Stats returns current cache statistics.
func (s *Service) Stats() cache.Stats { return s.store.Stats() }

// Precompute warms the cache for a list of queries by running each search
// through the normal pipeline. Already-cached queries are skipped. Hybrid
// mode is used unless the caller overrides it.
func (s *Service) Precompute(ctx context.Context, queries []string, m mode.Mode) (cache.WarmReport, error) {
	if len(queries) == 0 {
		return cache.WarmReport{}, domain.NewValidation("queries", "at least one query is required")
	}
	if len(queries) > MaxWarmQueries {
		return cache.WarmReport{}, domain.NewValidation("queries", fmt.Sprintf("at most %d queries per request", MaxWarmQueries))
	}
	if m == "" {
		m = mode.Hybrid
	}

	jobs := make([]cache.WarmJob, 0, len(queries))
	for _, raw := range queries {
		req, err := request.New(raw, m, filter.New(), 0, 0, "", "", false)
		if err != nil {
			return cache.WarmReport{}, err
		}
		q := query.New(raw)
		if q.IsEmpty() {
			return cache.WarmReport{}, domain.NewValidation("queries", "empty query cannot be warmed")
		}

		job := cache.WarmJob{
			Key: cache.Key(
				cache.CategorySearch,
				q.Normalized(),
				req.Filters().CanonicalFields(),
				req.SettingsFields(),
				string(req.Mode()),
			),
			Run: func(ctx context.Context) error {
				_, err := s.searcher.Search(ctx, &req)
				return err
			},
		}
		jobs = append(jobs, job)
	}

	report := s.warmer.Warm(ctx, jobs)
	s.logger.Info("cache precompute finished",
		zap.Int("queries", len(queries)),
		zap.Int("warmed", report.Warmed),
		zap.Int("cached", report.Cached),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("failed", report.Failed))
	return report, nil
}
