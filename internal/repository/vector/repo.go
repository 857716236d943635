// Package vector adapts the external vector index (Redis FT.SEARCH) to the
// retriever's Remote contract and the content index's Mirror contract.
package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pressfeed/searchcore/internal/db"
	"github.com/pressfeed/searchcore/internal/domain/content"
	"github.com/pressfeed/searchcore/internal/retriever"
)

// store is the consumer interface for vector index operations.
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo mirrors content items into an FT index and answers ranked
// (id, score) queries against it.
type Repo struct {
	store     store
	keyPrefix string
	dim       int
}

// New creates a vector index repository. dim is the deployment's fixed
// embedding dimension.
func New(s store, keyPrefix string, dim int) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, dim: dim}
}

var _ retriever.Remote = (*Repo)(nil)

func (r *Repo) indexName() string { return r.keyPrefix + "items:idx" }

func (r *Repo) itemKey(id string) string { return r.keyPrefix + "item:" + id }

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     r.indexName(),
		Prefixes: []string{r.keyPrefix + "item:"},
		Fields: []db.IndexField{
			{Name: "vector", Type: db.IndexFieldVector, VectorDim: r.dim, VectorMetric: "COSINE"},
			{Name: "text", Type: db.IndexFieldText},
			{Name: "source", Type: db.IndexFieldTag},
			{Name: "published_at", Type: db.IndexFieldNumeric},
			{Name: "quality", Type: db.IndexFieldNumeric},
		},
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert writes the item payload and its combined embedding.
func (r *Repo) Upsert(ctx context.Context, item *content.Item, combined []float32) error {
	fields := map[string]string{
		"vector":  vectorToBytes(combined),
		"text":    item.SearchText(),
		"source":  item.Source(),
		"quality": strconv.Itoa(item.QualityScore()),
	}
	if pub := item.PublishedAt(); pub != nil {
		fields["published_at"] = strconv.FormatInt(pub.Unix(), 10)
	}
	if err := r.store.HSet(ctx, r.itemKey(item.ID()), fields); err != nil {
		return fmt.Errorf("upsert %s: %w", item.ID(), err)
	}
	return nil
}

// Delete removes the item from the index.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.HDel(ctx, r.itemKey(id)); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// QueryKNN returns the topK nearest items to the query vector.
func (r *Repo) QueryKNN(ctx context.Context, vector []float32, topK int) ([]retriever.Hit, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Vector:       vector,
		K:            topK,
		ReturnFields: []string{"__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("query knn: %w", err)
	}
	return r.toHits(sr), nil
}

// QueryBM25 returns the topK keyword matches for the query text.
func (r *Repo) QueryBM25(ctx context.Context, text string, topK int) ([]retriever.Hit, error) {
	sr, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName: r.indexName(),
		Query:     text,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("query bm25: %w", err)
	}
	return r.toHits(sr), nil
}

func (r *Repo) toHits(sr *db.SearchResult) []retriever.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	prefix := r.keyPrefix + "item:"
	hits := make([]retriever.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		hits = append(hits, retriever.Hit{
			ID:    strings.TrimPrefix(e.Key, prefix),
			Score: e.Score,
		})
	}
	return hits
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
