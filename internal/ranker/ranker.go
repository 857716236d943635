// Package ranker fuses retrieval, recency, quality, and title-match signals
// into one final ranking.
package ranker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/domain/search/result"
	"github.com/pressfeed/searchcore/internal/retriever"
)

// Weights are the fusion coefficients. They sum to 1.
//
//	final = Retrieval*retrieval + Recency*recency + Quality*quality + Title*title
type Weights struct {
	Retrieval float64
	Recency   float64
	Quality   float64
	Title     float64
}

// DefaultWeights are the documented fusion defaults.
func DefaultWeights() Weights {
	return Weights{Retrieval: 0.5, Recency: 0.2, Quality: 0.2, Title: 0.1}
}

// DefaultHalfLife is the recency decay half-life. On the order of days:
// indexed articles stay relevant past the news cycle. Freshness-sensitive
// deployments configure a shorter one.
const DefaultHalfLife = 72 * time.Hour

// qualityScale maps the external quality signal into [0,1]; scores at or
// above this value clamp to 1.
const qualityScale = 100.0

// Ranker computes fused scores over deduplicated candidates.
type Ranker struct {
	weights  Weights
	halfLife time.Duration
	now      func() time.Time
}

// New creates a ranker with default weights and half-life.
func New() *Ranker {
	return &Ranker{weights: DefaultWeights(), halfLife: DefaultHalfLife, now: time.Now}
}

// WithWeights overrides the fusion weights.
func (r *Ranker) WithWeights(w Weights) *Ranker {
	if w.Retrieval+w.Recency+w.Quality+w.Title > 0 {
		r.weights = w
	}
	return r
}

// WithHalfLife overrides the recency decay half-life.
func (r *Ranker) WithHalfLife(d time.Duration) *Ranker {
	if d > 0 {
		r.halfLife = d
	}
	return r
}

// WithClock overrides the time source (tests).
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Rank deduplicates candidates by content id (keeping the highest-scoring
// one), fuses sub-scores, and sorts by final score descending. The sort is
// stable: equal scores preserve retrieval order, so pagination across
// repeated calls is stable for a fixed snapshot.
func (r *Ranker) Rank(q query.Query, candidates []retriever.Candidate) []result.Ranked {
	deduped := dedupeByID(candidates)
	now := r.now()

	ranked := make([]result.Ranked, 0, len(deduped))
	for _, c := range deduped {
		comp := result.ScoreComponents{
			Retrieval:  c.Score,
			Recency:    r.recencyBoost(c.Entry.Item.PublishedAt(), now),
			Quality:    qualityNorm(c.Entry.Item.QualityScore()),
			TitleMatch: TitleBoost(q.Tokens(), c.Entry.Item.Title()),
		}
		final := r.weights.Retrieval*comp.Retrieval +
			r.weights.Recency*comp.Recency +
			r.weights.Quality*comp.Quality +
			r.weights.Title*comp.TitleMatch

		ranked = append(ranked, result.Ranked{
			ContentID:   c.Entry.Item.ID(),
			Score:       final,
			Components:  comp,
			MatchReason: c.Reason,
			Title:       c.Entry.Item.Title(),
			URL:         c.Entry.Item.URL(),
			Source:      c.Entry.Item.Source(),
			PublishedAt: c.Entry.Item.PublishedAt(),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// recencyBoost decays exponentially with age: exp(-age_hours / half_life).
// Items without a publication time get no boost rather than a penalty spike.
func (r *Ranker) recencyBoost(publishedAt *time.Time, now time.Time) float64 {
	if publishedAt == nil {
		return 0
	}
	age := now.Sub(*publishedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Hours() / r.halfLife.Hours())
}

// qualityNorm clamps the external quality score into [0,1].
func qualityNorm(score int) float64 {
	if score <= 0 {
		return 0
	}
	n := float64(score) / qualityScale
	if n > 1 {
		return 1
	}
	return n
}

// TitleBoost is a fuzzy partial-match ratio in [0,1]: the fraction of query
// tokens present in the title, with substring matches counting half.
func TitleBoost(queryTokens []string, title string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	titleNorm := query.Normalize(title)
	titleTerms := make(map[string]struct{})
	for _, t := range strings.Fields(titleNorm) {
		titleTerms[t] = struct{}{}
	}

	var matched float64
	for _, qt := range queryTokens {
		if _, ok := titleTerms[qt]; ok {
			matched++
		} else if strings.Contains(titleNorm, qt) {
			matched += 0.5
		}
	}
	return matched / float64(len(queryTokens))
}

// dedupeByID keeps the highest-scoring candidate per content id, preserving
// first-seen order among survivors.
func dedupeByID(candidates []retriever.Candidate) []retriever.Candidate {
	best := make(map[string]int, len(candidates))
	out := make([]retriever.Candidate, 0, len(candidates))
	for _, c := range candidates {
		id := c.Entry.Item.ID()
		if i, ok := best[id]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[id] = len(out)
		out = append(out, c)
	}
	return out
}
