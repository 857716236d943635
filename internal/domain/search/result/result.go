// Package result defines the ranked search hit and response shapes.
package result

import "time"

// MatchReason names the channel that produced a hit.
type MatchReason string

// Match reason constants.
const (
	MatchTitle    MatchReason = "title"
	MatchContent  MatchReason = "content"
	MatchSource   MatchReason = "source"
	MatchSemantic MatchReason = "semantic"
	MatchFilter   MatchReason = "filter"
)

// ScoreComponents breaks the fused score into independently inspectable
// sub-scores. Fixed shape, never a free-form map.
type ScoreComponents struct {
	Retrieval  float64 `json:"retrieval"`
	Recency    float64 `json:"recency"`
	Quality    float64 `json:"quality"`
	TitleMatch float64 `json:"title_match"`
}

// Ranked is a single scored search hit. Serialized as-is into the cache.
type Ranked struct {
	ContentID   string          `json:"content_id"`
	Score       float64         `json:"relevance_score"`
	Components  ScoreComponents `json:"score_components"`
	MatchReason MatchReason     `json:"match_reason"`
	Highlights  []string        `json:"highlights,omitempty"`

	Title       string     `json:"title"`
	URL         string     `json:"url,omitempty"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Facets maps bucket names to counts per dimension, computed over the
// filtered (not query-scored) candidate set.
type Facets struct {
	Sources     map[string]int `json:"sources"`
	ScoreRanges map[string]int `json:"score_ranges"`
	DateRanges  map[string]int `json:"date_ranges"`
}

// Response is the full search response. The cached payload is the
// pre-pagination ranked set; pagination is applied on read.
type Response struct {
	Results        []Ranked `json:"results"`
	TotalCount     int      `json:"total_count"`
	Page           int      `json:"page"`
	PageSize       int      `json:"page_size"`
	ElapsedMS      int64    `json:"elapsed_ms"`
	Facets         Facets   `json:"facets"`
	Suggestions    []string `json:"suggestions,omitempty"`
	AppliedFilters []string `json:"applied_filters,omitempty"`
	Degraded       bool     `json:"degraded"`
	DegradedReason string   `json:"degraded_reason,omitempty"`
	CacheHit       bool     `json:"cache_hit"`
}
