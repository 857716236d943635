package content

import (
	"context"

	"github.com/pressfeed/searchcore/internal/cache"
	domcontent "github.com/pressfeed/searchcore/internal/domain/content"
)

// Indexer is the content index write and point-read surface.
type Indexer interface {
	Add(ctx context.Context, item domcontent.Item) error
	Update(ctx context.Context, id string, patch domcontent.Patch) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domcontent.Item, error)
	Count() int
}

// Invalidator clears derived cache entries after index writes.
type Invalidator interface {
	InvalidateCategory(ctx context.Context, cat cache.Category) int
}
