// Package retriever issues semantic, keyword, and hybrid retrieval over the
// content index and the external vector index, normalizing both result
// shapes into one candidate type.
package retriever

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/index"
)

// DefaultAlpha biases the hybrid merge toward the semantic channel.
const DefaultAlpha = 0.7

// DefaultTimeout bounds each external call (embedding, vector index).
const DefaultTimeout = 3 * time.Second

// Degradation reasons reported on fallback.
const (
	DegradedEmbedding   = "embedding"
	DegradedVectorIndex = "vector_index"
)

// Hit is a ranked (id, score) pair from the external vector index.
type Hit struct {
	ID    string
	Score float64
}

// Remote is the external vector index contract. The retriever tolerates it
// being entirely absent (nil) or failing; both degrade to in-process search.
type Remote interface {
	QueryKNN(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	QueryBM25(ctx context.Context, text string, topK int) ([]Hit, error)
}

// Candidate is one retrieval hit resolved against the index snapshot.
type Candidate struct {
	Entry  *index.Entry
	Score  float64
	Reason result.MatchReason
}

// Retriever answers retrieval requests for a fixed snapshot of the content
// index. The derived keyword index is cached per snapshot generation.
type Retriever struct {
	embedder domain.Embedder
	remote   Remote
	alpha    float64
	timeout  time.Duration
	logger   *zap.Logger

	kwMu sync.Mutex
	kw   *keywordIndex
}

// New creates a retriever. remote may be nil.
func New(embedder domain.Embedder, remote Remote, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder: embedder,
		remote:   remote,
		alpha:    DefaultAlpha,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
}

// WithAlpha overrides the hybrid semantic weight.
func (r *Retriever) WithAlpha(alpha float64) *Retriever {
	if alpha >= 0 && alpha <= 1 {
		r.alpha = alpha
	}
	return r
}

// WithTimeout overrides the per-external-call timeout.
func (r *Retriever) WithTimeout(d time.Duration) *Retriever {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Retrieve runs the requested mode over the filtered candidate entries.
// It never returns an error for embedding or vector-index failures: semantic
// and hybrid degrade to keyword and the degraded reason names the subsystem.
// For a fixed snapshot and inputs, output order is deterministic.
func (r *Retriever) Retrieve(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	m mode.Mode,
	limit int,
) (candidates []Candidate, degraded string, err error) {
	if len(allowed) == 0 || q.IsEmpty() {
		return nil, "", nil
	}

	switch m {
	case mode.Semantic:
		return r.retrieveSemantic(ctx, snap, allowed, q, limit)
	case mode.Keyword:
		return r.retrieveKeyword(ctx, snap, allowed, q, limit), "", nil
	default:
		return r.retrieveHybrid(ctx, snap, allowed, q, limit)
	}
}

func (r *Retriever) retrieveSemantic(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	limit int,
) ([]Candidate, string, error) {
	sem, degraded := r.semanticChannel(ctx, snap, allowed, q, limit)
	if degraded == DegradedEmbedding {
		// Mode degrades to keyword, never raises.
		return r.retrieveKeyword(ctx, snap, allowed, q, limit), degraded, nil
	}
	return sem, degraded, nil
}

func (r *Retriever) retrieveHybrid(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	limit int,
) ([]Candidate, string, error) {
	var sem, kw []Candidate
	var degraded string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sem, degraded = r.semanticChannel(gctx, snap, allowed, q, limit)
		return nil
	})
	g.Go(func() error {
		kw = r.retrieveKeyword(gctx, snap, allowed, q, limit)
		return nil
	})
	// Channel errors degrade instead of propagating.
	_ = g.Wait()

	if degraded == DegradedEmbedding {
		return kw, degraded, nil
	}
	return r.mergeHybrid(sem, kw, limit), degraded, nil
}

// mergeHybrid unions both channels by content id. Ids present in both get
// alpha*semantic + (1-alpha)*keyword; single-channel ids keep their score
// unscaled, so legitimately keyword-only or semantic-only matches are not
// penalized with a synthetic zero for the missing channel.
func (r *Retriever) mergeHybrid(sem, kw []Candidate, limit int) []Candidate {
	merged := make(map[string]Candidate, len(sem)+len(kw))
	for _, c := range sem {
		merged[c.Entry.Item.ID()] = c
	}
	for _, c := range kw {
		if s, ok := merged[c.Entry.Item.ID()]; ok {
			fused := s
			fused.Score = r.alpha*s.Score + (1-r.alpha)*c.Score
			if c.Reason == result.MatchTitle {
				fused.Reason = result.MatchTitle
			}
			merged[c.Entry.Item.ID()] = fused
		} else {
			merged[c.Entry.Item.ID()] = c
		}
	}

	out := make([]Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sortCandidates(out)
	return truncate(out, limit)
}

// semanticChannel embeds the query and ranks by cosine similarity, remote
// first and in-process on remote failure. degraded is DegradedEmbedding when
// the provider is down, DegradedVectorIndex when only the remote index is.
func (r *Retriever) semanticChannel(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	limit int,
) ([]Candidate, string) {
	if r.embedder == nil {
		return nil, DegradedEmbedding
	}

	vec := q.Embedding()
	if vec == nil {
		ectx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.embedder.Embed(ectx, q.Original())
		cancel()
		if err != nil {
			r.logger.Warn("query embedding failed, degrading to keyword", zap.Error(err))
			return nil, DegradedEmbedding
		}
		vec = res.Embedding
	}

	var degraded string
	if r.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, r.timeout)
		hits, err := r.remote.QueryKNN(rctx, vec, limit)
		cancel()
		if err == nil {
			return resolveHits(hits, allowed, result.MatchSemantic, limit), ""
		}
		r.logger.Warn("vector index knn failed, using local scan", zap.Error(err))
		degraded = DegradedVectorIndex
	}

	out := make([]Candidate, 0, len(allowed))
	for _, e := range allowed {
		score := domain.CosineSimilarity(vec, e.Vector.Combined)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{Entry: e, Score: score, Reason: result.MatchSemantic})
	}
	sortCandidates(out)
	return truncate(out, limit), degraded
}

// retrieveKeyword runs sparse matching: remote BM25 when available, the
// in-process TF-IDF index otherwise. Always succeeds; pure keyword search
// has no external dependency. Query expansion applies here only.
func (r *Retriever) retrieveKeyword(
	ctx context.Context,
	snap *index.Snapshot,
	allowed []*index.Entry,
	q query.Query,
	limit int,
) []Candidate {
	if r.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, r.timeout)
		// Both keyword paths see the same expanded query.
		hits, err := r.remote.QueryBM25(rctx, q.KeywordText(), limit)
		cancel()
		if err == nil && len(hits) > 0 {
			normalizeHitScores(hits)
			return resolveHits(hits, allowed, result.MatchContent, limit)
		}
		if err != nil {
			r.logger.Warn("vector index bm25 failed, using local tf-idf", zap.Error(err))
		}
	}

	ki := r.keywordIndexFor(snap)
	raw := ki.score(q.KeywordTerms())
	if len(raw) == 0 {
		return nil
	}

	var maxScore float64
	for _, h := range raw {
		if h.score > maxScore {
			maxScore = h.score
		}
	}

	byID := make(map[string]*index.Entry, len(allowed))
	for _, e := range allowed {
		byID[e.Item.ID()] = e
	}

	out := make([]Candidate, 0, len(raw))
	for _, h := range raw {
		e, ok := byID[h.id]
		if !ok {
			continue
		}
		reason := result.MatchContent
		if h.titleMatch {
			reason = result.MatchTitle
		}
		out = append(out, Candidate{Entry: e, Score: h.score / maxScore, Reason: reason})
	}
	sortCandidates(out)
	return truncate(out, limit)
}

// keywordIndexFor returns the cached sparse index, rebuilding when the
// snapshot generation moved. A structural change in the content index is
// therefore visible to the very next retrieval.
func (r *Retriever) keywordIndexFor(snap *index.Snapshot) *keywordIndex {
	r.kwMu.Lock()
	defer r.kwMu.Unlock()
	if r.kw == nil || r.kw.generation != snap.Generation {
		r.kw = buildKeywordIndex(snap)
	}
	return r.kw
}

func resolveHits(hits []Hit, allowed []*index.Entry, reason result.MatchReason, limit int) []Candidate {
	byID := make(map[string]*index.Entry, len(allowed))
	for _, e := range allowed {
		byID[e.Item.ID()] = e
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		e, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, Candidate{Entry: e, Score: h.Score, Reason: reason})
	}
	sortCandidates(out)
	return truncate(out, limit)
}

func normalizeHitScores(hits []Hit) {
	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	if maxScore <= 0 {
		return
	}
	for i := range hits {
		hits[i].Score /= maxScore
	}
}

// sortCandidates orders by score descending, then published_at descending,
// then id ascending, so ties resolve identically across calls.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		pi, pj := cs[i].Entry.Item.PublishedAt(), cs[j].Entry.Item.PublishedAt()
		switch {
		case pi != nil && pj != nil && !pi.Equal(*pj):
			return pi.After(*pj)
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return cs[i].Entry.Item.ID() < cs[j].Entry.Item.ID()
	})
}

func truncate(cs []Candidate, limit int) []Candidate {
	if limit > 0 && len(cs) > limit {
		return cs[:limit]
	}
	return cs
}
