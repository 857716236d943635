package search

import (
	"context"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/index"
	"github.com/pressfeed/searchcore/internal/retriever"
)

// IndexReader exposes the immutable view of the content index.
type IndexReader interface {
	Snapshot() *index.Snapshot
}

// Retriever gathers scored candidates for a query in the requested mode.
type Retriever interface {
	Retrieve(
		ctx context.Context,
		snap *index.Snapshot,
		allowed []*index.Entry,
		q query.Query,
		m mode.Mode,
		limit int,
	) (candidates []retriever.Candidate, degraded string, err error)
}

// Ranker fuses candidate scores into the final ordering.
type Ranker interface {
	Rank(q query.Query, candidates []retriever.Candidate) []result.Ranked
}

// ResultCache stores fully-ranked result sets between requests.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, v any) bool
	SetCategory(ctx context.Context, key string, v any, cat cache.Category)
}
