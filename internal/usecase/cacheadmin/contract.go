package cacheadmin

import (
	"context"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
)

// Store is the cache management surface.
type Store interface {
	Clear(ctx context.Context) int
	InvalidateCategory(ctx context.Context, cat cache.Category) int
	InvalidatePattern(ctx context.Context, pattern string) int
	Stats() cache.Stats
}

// Searcher executes searches during cache warming.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
}

// Warmer runs precompute jobs against the cache.
type Warmer interface {
	Warm(ctx context.Context, jobs []cache.WarmJob) cache.WarmReport
}
