package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/content"
)

// batchEmbedder counts calls and can fail or run a hook mid-embed.
type batchEmbedder struct {
	calls atomic.Int32
	err   error
	hook  func()
	dims  int // vector width, 3 when zero
}

func (m *batchEmbedder) vector() []float32 {
	d := m.dims
	if d == 0 {
		d = 3
	}
	v := make([]float32, d)
	v[0] = 1
	return v
}

func (m *batchEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vector()}, nil
}

func (m *batchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls.Add(1)
	if m.hook != nil {
		m.hook()
	}
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i := range texts {
		out.Embeddings[i] = m.vector()
	}
	return out, nil
}

type mirrorSpy struct {
	upserts []string
	deletes []string
	err     error
}

func (m *mirrorSpy) Upsert(_ context.Context, item *content.Item, _ []float32) error {
	if m.err != nil {
		return m.err
	}
	m.upserts = append(m.upserts, item.ID())
	return nil
}

func (m *mirrorSpy) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.deletes = append(m.deletes, id)
	return nil
}

func makeItem(t *testing.T, id, title string) content.Item {
	t.Helper()
	item, err := content.New(id, title, "preview of "+title, "", "src", nil, 50, "en", false, nil)
	if err != nil {
		t.Fatalf("content.New: %v", err)
	}
	return item
}

func TestAddVisibleInNextSnapshot(t *testing.T) {
	idx := New(&batchEmbedder{}, nil, zap.NewNop())
	ctx := context.Background()

	before := idx.Snapshot()
	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if before.Get("a") != nil {
		t.Error("old snapshot gained the new item")
	}
	after := idx.Snapshot()
	if after.Get("a") == nil {
		t.Error("new snapshot is missing the added item")
	}
	if after.Generation <= before.Generation {
		t.Errorf("generation did not advance: %d -> %d", before.Generation, after.Generation)
	}
	if idx.Count() != 1 {
		t.Errorf("Count() = %d, want 1", idx.Count())
	}
}

func TestAddEmbedFailureLeavesNoPartialState(t *testing.T) {
	emb := &batchEmbedder{err: errors.New("provider down")}
	idx := New(emb, nil, zap.NewNop())

	err := idx.Add(context.Background(), makeItem(t, "a", "Alpha"))
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("Add error = %v, want ErrEmbeddingUnavailable", err)
	}
	if idx.Count() != 0 {
		t.Errorf("Count() = %d after failed add", idx.Count())
	}
}

func TestSnapshotEntriesSortedByID(t *testing.T) {
	idx := New(&batchEmbedder{}, nil, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := idx.Add(ctx, makeItem(t, id, "Title "+id)); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	snap := idx.Snapshot()
	for i := 1; i < len(snap.Entries); i++ {
		if snap.Entries[i-1].Item.ID() >= snap.Entries[i].Item.ID() {
			t.Fatalf("entries not sorted: %s before %s",
				snap.Entries[i-1].Item.ID(), snap.Entries[i].Item.ID())
		}
	}
	if snap.Get("b") == nil || snap.Get("b").Item.Title() != "Title b" {
		t.Error("Snapshot.Get(b) failed")
	}
	if snap.Get("zz") != nil {
		t.Error("Snapshot.Get(zz) should be nil")
	}
}

func TestUpdateReembedsOnlyOnTextChange(t *testing.T) {
	emb := &batchEmbedder{}
	idx := New(emb, nil, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	after := emb.calls.Load()

	quality := 90
	if err := idx.Update(ctx, "a", content.Patch{QualityScore: &quality}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if emb.calls.Load() != after {
		t.Error("metadata-only update re-embedded")
	}

	title := "Alpha v2"
	if err := idx.Update(ctx, "a", content.Patch{Title: &title}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if emb.calls.Load() != after+1 {
		t.Error("title change did not re-embed")
	}

	item, err := idx.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Title() != title || item.QualityScore() != quality {
		t.Errorf("item = %q/%d after updates", item.Title(), item.QualityScore())
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	idx := New(&batchEmbedder{}, nil, zap.NewNop())

	title := "x"
	err := idx.Update(context.Background(), "ghost", content.Patch{Title: &title})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update error = %v, want ErrNotFound", err)
	}
}

func TestUpdateDoesNotResurrectRemovedItem(t *testing.T) {
	emb := &batchEmbedder{}
	idx := New(emb, nil, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Remove the item while the update is embedding.
	emb.hook = func() {
		emb.hook = nil
		if err := idx.Remove(ctx, "a"); err != nil {
			t.Errorf("Remove: %v", err)
		}
	}

	title := "Alpha v2"
	err := idx.Update(ctx, "a", content.Patch{Title: &title})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
	if idx.Count() != 0 {
		t.Error("removed item resurrected by concurrent update")
	}
}

func TestRemove(t *testing.T) {
	idx := New(&batchEmbedder{}, nil, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := idx.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after remove = %v, want ErrNotFound", err)
	}
	if err := idx.Remove(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestMirrorReceivesWrites(t *testing.T) {
	mirror := &mirrorSpy{}
	idx := New(&batchEmbedder{}, mirror, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(mirror.upserts) != 1 || mirror.upserts[0] != "a" {
		t.Errorf("mirror upserts = %v", mirror.upserts)
	}
	if len(mirror.deletes) != 1 || mirror.deletes[0] != "a" {
		t.Errorf("mirror deletes = %v", mirror.deletes)
	}
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	mirror := &mirrorSpy{err: errors.New("redis down")}
	idx := New(&batchEmbedder{}, mirror, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add should survive mirror failure: %v", err)
	}
	if idx.Count() != 1 {
		t.Error("item missing after mirror failure")
	}
}

func TestNilEmbedderIndexesWithoutVectors(t *testing.T) {
	idx := New(nil, nil, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e := idx.Snapshot().Get("a")
	if e == nil {
		t.Fatal("item not indexed")
	}
	if e.Vector.Combined != nil {
		t.Error("vector present without a provider")
	}
}

func TestVectorLastUpdatedUsesClock(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	idx := New(&batchEmbedder{}, nil, zap.NewNop()).WithClock(func() time.Time { return at })
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := idx.Snapshot().Get("a").Vector.LastUpdated; !got.Equal(at) {
		t.Errorf("LastUpdated = %v, want %v", got, at)
	}
}

func TestConcurrentAddsSettleOnOneDimension(t *testing.T) {
	idx := New(&batchEmbedder{dims: 4}, nil, zap.NewNop())
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		item := makeItem(t, id, "Title "+id)
		wg.Add(1)
		go func(i int, item content.Item) {
			defer wg.Done()
			errs[i] = idx.Add(ctx, item)
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Add(%s): %v", ids[i], err)
		}
	}
	if idx.Count() != len(ids) {
		t.Errorf("Count() = %d, want %d", idx.Count(), len(ids))
	}
}

func TestAddRejectsMismatchedDimension(t *testing.T) {
	emb := &batchEmbedder{dims: 4}
	idx := New(emb, nil, zap.NewNop())
	ctx := context.Background()

	if err := idx.Add(ctx, makeItem(t, "a", "Alpha")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	emb.dims = 8
	err := idx.Add(ctx, makeItem(t, "b", "Beta"))
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("Add error = %v, want ErrEmbeddingUnavailable", err)
	}
	if idx.Count() != 1 {
		t.Errorf("Count() = %d, want 1", idx.Count())
	}
}
