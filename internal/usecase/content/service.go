package content

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/domain"
	domcontent "github.com/pressfeed/searchcore/internal/domain/content"
)

// Service manages content lifecycle: every write goes through the index and
// invalidates the caches derived from it.
type Service struct {
	idx    Indexer
	inval  Invalidator
	logger *zap.Logger
}

// New creates a content service. inval may be nil when caching is disabled.
func New(idx Indexer, inval Invalidator, logger *zap.Logger) *Service {
	return &Service{idx: idx, inval: inval, logger: logger}
}

// Add indexes a new item.
func (s *Service) Add(ctx context.Context, item domcontent.Item) error {
	if err := s.idx.Add(ctx, item); err != nil {
		return err
	}
	s.invalidateDerived(ctx, item.ID())
	return nil
}

// Upsert adds the item, replacing any existing item with the same id.
// Reports whether a new item was created.
func (s *Service) Upsert(ctx context.Context, item domcontent.Item) (created bool, err error) {
	_, err = s.idx.Get(ctx, item.ID())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		created = true
	case err != nil:
		return false, err
	}

	if err := s.idx.Add(ctx, item); err != nil {
		return false, err
	}
	s.invalidateDerived(ctx, item.ID())
	return created, nil
}

// Update applies a partial update to an indexed item.
func (s *Service) Update(ctx context.Context, id string, patch domcontent.Patch) error {
	if err := s.idx.Update(ctx, id, patch); err != nil {
		return err
	}
	s.invalidateDerived(ctx, id)
	return nil
}

// Remove retracts an item from the index.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.idx.Remove(ctx, id); err != nil {
		return err
	}
	s.invalidateDerived(ctx, id)
	return nil
}

// Get returns an indexed item by id.
func (s *Service) Get(ctx context.Context, id string) (domcontent.Item, error) {
	return s.idx.Get(ctx, id)
}

// Count returns the number of indexed items.
func (s *Service) Count() int { return s.idx.Count() }

// invalidateDerived drops every cache category whose entries could embed the
// changed item. Categories are independent key namespaces, so each is
// cleared on its own.
func (s *Service) invalidateDerived(ctx context.Context, id string) {
	if s.inval == nil {
		return
	}
	n := 0
	for _, cat := range []cache.Category{
		cache.CategorySearch, cache.CategoryFacets, cache.CategorySuggest, cache.CategoryPopular,
	} {
		n += s.inval.InvalidateCategory(ctx, cat)
	}
	s.logger.Debug("invalidated derived caches",
		zap.String("content_id", id),
		zap.Int("entries", n))
}
