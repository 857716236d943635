package search

import (
	"time"

	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/index"
	"github.com/pressfeed/searchcore/internal/retriever"
)

// Quality score bucket names, lowest to highest.
const (
	bucketSpam      = "spam"
	bucketLow       = "0-24"
	bucketFair      = "25-49"
	bucketGood      = "50-74"
	bucketExcellent = "75+"
)

// Publication age bucket names.
const (
	bucketToday     = "today"
	bucketThisWeek  = "this_week"
	bucketThisMonth = "this_month"
	bucketOlder     = "older"
	bucketUndated   = "undated"
)

// buildFacets counts the filtered universe per source, quality bucket, and
// publication age bucket. Facets are computed before any query scoring so
// they describe what narrowing the filters further would yield, independent
// of ranking.
func buildFacets(allowed []*index.Entry, now time.Time) result.Facets {
	f := result.Facets{
		Sources:     map[string]int{},
		ScoreRanges: map[string]int{},
		DateRanges:  map[string]int{},
	}
	for _, e := range allowed {
		if src := e.Item.Source(); src != "" {
			f.Sources[src]++
		}
		f.ScoreRanges[qualityBucket(e.Item.QualityScore())]++
		f.DateRanges[dateBucket(e.Item.PublishedAt(), now)]++
	}
	return f
}

func qualityBucket(score int) string {
	switch {
	case score < 0:
		return bucketSpam
	case score < 25:
		return bucketLow
	case score < 50:
		return bucketFair
	case score < 75:
		return bucketGood
	default:
		return bucketExcellent
	}
}

func dateBucket(publishedAt *time.Time, now time.Time) string {
	if publishedAt == nil {
		return bucketUndated
	}
	age := now.Sub(*publishedAt)
	switch {
	case age < 24*time.Hour:
		return bucketToday
	case age < 7*24*time.Hour:
		return bucketThisWeek
	case age < 30*24*time.Hour:
		return bucketThisMonth
	default:
		return bucketOlder
	}
}

// browseCandidates wraps the filtered universe as zero-score candidates for
// filter-only requests, so ranking still fills recency and quality
// components.
func browseCandidates(allowed []*index.Entry) []retriever.Candidate {
	candidates := make([]retriever.Candidate, len(allowed))
	for i, e := range allowed {
		candidates[i] = retriever.Candidate{Entry: e, Reason: result.MatchFilter}
	}
	return candidates
}
