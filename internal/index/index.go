// Package index owns the in-process mirror of indexed content items and
// their embeddings.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/content"
)

// Mirror replicates index mutations to an external vector index.
// Mirror failures are logged and never fail the local mutation.
type Mirror interface {
	Upsert(ctx context.Context, item *content.Item, combined []float32) error
	Delete(ctx context.Context, id string) error
}

// Entry pairs an indexed item with its derived vectors. An entry's vector
// exists if and only if the item is indexed; both are written atomically.
type Entry struct {
	Item   content.Item
	Vector content.Vector
}

// Snapshot is an immutable view of the index. Entries are sorted by id so
// scans over a fixed snapshot are deterministic.
type Snapshot struct {
	Generation uint64
	Entries    []*Entry
}

// Get returns the entry for id, or nil.
func (s *Snapshot) Get(id string) *Entry {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Item.ID() >= id })
	if i < len(s.Entries) && s.Entries[i].Item.ID() == id {
		return s.Entries[i]
	}
	return nil
}

// Index is the single mutable shared structure: many concurrent readers via
// atomically swapped snapshots, writers serialized by one mutex. A write is
// visible to the next snapshot the moment it returns.
type Index struct {
	mu       sync.Mutex
	items    map[string]*Entry
	snapshot atomic.Pointer[Snapshot]
	gen      atomic.Uint64

	embedder domain.Embedder
	mirror   Mirror
	dim      atomic.Int64
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an empty index. mirror may be nil when no external vector
// index is configured.
func New(embedder domain.Embedder, mirror Mirror, logger *zap.Logger) *Index {
	idx := &Index{
		items:    make(map[string]*Entry),
		embedder: embedder,
		mirror:   mirror,
		now:      time.Now,
		logger:   logger,
	}
	idx.snapshot.Store(&Snapshot{})
	return idx
}

// WithClock overrides the time source (tests).
func (x *Index) WithClock(now func() time.Time) *Index {
	x.now = now
	return x
}

// Add indexes a new item. The combined embedding comes from one provider
// call over the concatenated title and preview, keeping title and body in a
// single vector space. Embedding failure rejects the add with no partial
// state.
func (x *Index) Add(ctx context.Context, item content.Item) error {
	vec, err := x.embed(ctx, &item)
	if err != nil {
		return err
	}

	x.mu.Lock()
	x.items[item.ID()] = &Entry{Item: item, Vector: vec}
	x.rebuildSnapshotLocked()
	x.mu.Unlock()

	x.mirrorUpsert(ctx, &item, vec.Combined)
	return nil
}

// Update applies a partial update. The embedding is recomputed only when the
// patch touches title or preview text.
func (x *Index) Update(ctx context.Context, id string, patch content.Patch) error {
	x.mu.Lock()
	cur, ok := x.items[id]
	if !ok {
		x.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	curItem := cur.Item
	curVec := cur.Vector
	x.mu.Unlock()

	updated, err := patch.Apply(curItem)
	if err != nil {
		return fmt.Errorf("update %s: %s: %w", id, err, domain.ErrValidation)
	}

	vec := curVec
	if patch.TouchesText() {
		vec, err = x.embed(ctx, &updated)
		if err != nil {
			return err
		}
	}

	x.mu.Lock()
	// The item may have been removed while embedding; an update must not
	// resurrect it.
	if _, ok := x.items[id]; !ok {
		x.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	x.items[id] = &Entry{Item: updated, Vector: vec}
	x.rebuildSnapshotLocked()
	x.mu.Unlock()

	x.mirrorUpsert(ctx, &updated, vec.Combined)
	return nil
}

// Remove drops an item and its vectors atomically.
func (x *Index) Remove(ctx context.Context, id string) error {
	x.mu.Lock()
	if _, ok := x.items[id]; !ok {
		x.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, domain.ErrNotFound)
	}
	delete(x.items, id)
	x.rebuildSnapshotLocked()
	x.mu.Unlock()

	if x.mirror != nil {
		if err := x.mirror.Delete(ctx, id); err != nil {
			x.logger.Warn("vector index delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// Get returns the item by id.
func (x *Index) Get(_ context.Context, id string) (content.Item, error) {
	if e := x.snapshot.Load().Get(id); e != nil {
		return e.Item, nil
	}
	return content.Item{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
}

// AllIDs returns every indexed id in ascending order.
func (x *Index) AllIDs() []string {
	snap := x.snapshot.Load()
	ids := make([]string, len(snap.Entries))
	for i, e := range snap.Entries {
		ids[i] = e.Item.ID()
	}
	return ids
}

// Count returns the number of indexed items.
func (x *Index) Count() int { return len(x.snapshot.Load().Entries) }

// Snapshot returns the current immutable view. Every search runs against one
// snapshot, so concurrent writes never produce a partially-updated read.
func (x *Index) Snapshot() *Snapshot { return x.snapshot.Load() }

// Generation returns the structural-change counter. The retriever uses it to
// invalidate its derived keyword index.
func (x *Index) Generation() uint64 { return x.gen.Load() }

// embed derives all three vectors in one provider round-trip. The combined
// embedding is one call over the concatenated title and preview, not a mix
// of two independent vectors, so both channels live in the same space.
func (x *Index) embed(ctx context.Context, item *content.Item) (content.Vector, error) {
	// No provider configured: items are indexed without vectors and every
	// search runs as keyword.
	if x.embedder == nil {
		return content.Vector{LastUpdated: x.now()}, nil
	}

	texts := []string{item.Title(), item.BodyPreview(), item.SearchText()}

	var res domain.BatchEmbeddingResult
	var err error
	if be, ok := x.embedder.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, texts)
	} else {
		res, err = domain.BatchFallback(ctx, x.embedder, texts)
	}
	if err != nil {
		return content.Vector{}, fmt.Errorf("embed %s: %w: %w", item.ID(), err, domain.ErrEmbeddingUnavailable)
	}
	if len(res.Embeddings) != len(texts) {
		return content.Vector{}, fmt.Errorf(
			"embed %s: provider returned %d vectors for %d texts: %w",
			item.ID(), len(res.Embeddings), len(texts), domain.ErrEmbeddingUnavailable,
		)
	}

	combined := res.Embeddings[2]
	// embed runs outside x.mu, so the first-embed dimension capture has to
	// be atomic: concurrent first adds race to set it, later embeds only
	// compare.
	dim := int64(len(combined))
	if !x.dim.CompareAndSwap(0, dim) {
		if got := x.dim.Load(); got != dim {
			return content.Vector{}, fmt.Errorf(
				"embed %s: dimension %d does not match index dimension %d: %w",
				item.ID(), dim, got, domain.ErrEmbeddingUnavailable,
			)
		}
	}
	for _, v := range res.Embeddings {
		domain.NormalizeVector(v)
	}

	return content.Vector{
		Title:       res.Embeddings[0],
		Body:        res.Embeddings[1],
		Combined:    combined,
		LastUpdated: x.now(),
	}, nil
}

func (x *Index) rebuildSnapshotLocked() {
	entries := make([]*Entry, 0, len(x.items))
	for _, e := range x.items {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Item.ID() < entries[j].Item.ID()
	})
	gen := x.gen.Add(1)
	x.snapshot.Store(&Snapshot{Generation: gen, Entries: entries})
}

func (x *Index) mirrorUpsert(ctx context.Context, item *content.Item, combined []float32) {
	if x.mirror == nil {
		return
	}
	if err := x.mirror.Upsert(ctx, item, combined); err != nil {
		x.logger.Warn("vector index upsert failed", zap.String("id", item.ID()), zap.Error(err))
	}
}
