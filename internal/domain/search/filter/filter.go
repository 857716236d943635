// Package filter defines the immutable search filter value object.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pressfeed/searchcore/internal/domain/content"
)

// MaxSources bounds the source allow-list length.
const MaxSources = 64

// StarredLabel is the label convention marking starred items.
const StarredLabel = "starred"

// Filter is an immutable set of candidate constraints. All bounds are
// inclusive; an absent bound means unconstrained. The zero value matches
// everything except spam (exclude_spam defaults to true).
type Filter struct {
	sources      []string
	minScore     *float64
	maxScore     *float64
	dateFrom     *time.Time
	dateTo       *time.Time
	hasImage     *bool
	isStarred    *bool
	includeSpam  bool
	labels       []string
	qualityFloor *int
	minWords     *int
	maxWords     *int
	language     string
}

// New creates an empty filter with default flags (exclude_spam=true).
func New() Filter { return Filter{} }

// WithSources returns a copy restricted to the given sources.
// The list is deduplicated and sorted; order never affects equality.
func (f Filter) WithSources(sources ...string) Filter {
	f.sources = dedupSorted(sources)
	return f
}

// WithScoreBounds returns a copy with inclusive relevance score bounds.
func (f Filter) WithScoreBounds(minScore, maxScore *float64) Filter {
	f.minScore = clonePtr(minScore)
	f.maxScore = clonePtr(maxScore)
	return f
}

// WithDateRange returns a copy with an inclusive published_at range.
func (f Filter) WithDateRange(from, to *time.Time) Filter {
	f.dateFrom = clonePtr(from)
	f.dateTo = clonePtr(to)
	return f
}

// WithHasImage returns a copy constrained on image presence.
func (f Filter) WithHasImage(v bool) Filter {
	f.hasImage = &v
	return f
}

// WithStarred returns a copy constrained on the starred label.
func (f Filter) WithStarred(v bool) Filter {
	f.isStarred = &v
	return f
}

// WithIncludeSpam returns a copy that keeps spam-scored items
// (quality_score < 0). Spam is excluded by default.
func (f Filter) WithIncludeSpam() Filter {
	f.includeSpam = true
	return f
}

// WithLabels returns a copy requiring every given label.
func (f Filter) WithLabels(labels ...string) Filter {
	f.labels = dedupSorted(labels)
	return f
}

// WithQualityFloor returns a copy with an inclusive minimum quality score.
func (f Filter) WithQualityFloor(floor int) Filter {
	f.qualityFloor = &floor
	return f
}

// WithWordBounds returns a copy with inclusive body word-count bounds.
func (f Filter) WithWordBounds(minWords, maxWords *int) Filter {
	f.minWords = clonePtr(minWords)
	f.maxWords = clonePtr(maxWords)
	return f
}

// WithLanguage returns a copy constrained to a language code.
func (f Filter) WithLanguage(lang string) Filter {
	f.language = lang
	return f
}

// Validate checks bound ordering and list sizes.
func (f Filter) Validate() error {
	if len(f.sources) > MaxSources {
		return fmt.Errorf("too many sources (max %d)", MaxSources)
	}
	if f.minScore != nil && f.maxScore != nil && *f.minScore > *f.maxScore {
		return fmt.Errorf("min_score %g exceeds max_score %g", *f.minScore, *f.maxScore)
	}
	if f.dateFrom != nil && f.dateTo != nil && f.dateFrom.After(*f.dateTo) {
		return fmt.Errorf("date_from after date_to")
	}
	if f.minWords != nil && f.maxWords != nil && *f.minWords > *f.maxWords {
		return fmt.Errorf("min_words %d exceeds max_words %d", *f.minWords, *f.maxWords)
	}
	return nil
}

// IsEmpty reports whether the filter constrains nothing beyond defaults.
func (f Filter) IsEmpty() bool {
	return len(f.sources) == 0 && f.minScore == nil && f.maxScore == nil &&
		f.dateFrom == nil && f.dateTo == nil && f.hasImage == nil &&
		f.isStarred == nil && !f.includeSpam && len(f.labels) == 0 &&
		f.qualityFloor == nil && f.minWords == nil && f.maxWords == nil &&
		f.language == ""
}

// Sources returns the source allow-list (sorted, deduplicated).
func (f Filter) Sources() []string { return f.sources }

// ScoreBounds returns the inclusive relevance score bounds.
func (f Filter) ScoreBounds() (minScore, maxScore *float64) { return f.minScore, f.maxScore }

// DateRange returns the inclusive published_at range.
func (f Filter) DateRange() (from, to *time.Time) { return f.dateFrom, f.dateTo }

// QualityFloor returns the inclusive minimum quality score.
func (f Filter) QualityFloor() *int { return f.qualityFloor }

// Language returns the language constraint, empty when unconstrained.
func (f Filter) Language() string { return f.language }

// Matches reports whether the item passes every constraint except the
// relevance score bounds, which apply after scoring.
func (f Filter) Matches(item *content.Item) bool {
	if len(f.sources) > 0 && !containsSorted(f.sources, item.Source()) {
		return false
	}
	if f.dateFrom != nil || f.dateTo != nil {
		pub := item.PublishedAt()
		if pub == nil {
			return false
		}
		if f.dateFrom != nil && pub.Before(*f.dateFrom) {
			return false
		}
		if f.dateTo != nil && pub.After(*f.dateTo) {
			return false
		}
	}
	if f.hasImage != nil && item.HasImage() != *f.hasImage {
		return false
	}
	if f.isStarred != nil && item.HasLabel(StarredLabel) != *f.isStarred {
		return false
	}
	if !f.includeSpam && item.QualityScore() < 0 {
		return false
	}
	for _, l := range f.labels {
		if !item.HasLabel(l) {
			return false
		}
	}
	if f.qualityFloor != nil && item.QualityScore() < *f.qualityFloor {
		return false
	}
	if f.minWords != nil || f.maxWords != nil {
		words := len(strings.Fields(item.BodyPreview()))
		if f.minWords != nil && words < *f.minWords {
			return false
		}
		if f.maxWords != nil && words > *f.maxWords {
			return false
		}
	}
	if f.language != "" && item.Language() != f.language {
		return false
	}
	return true
}

// MatchesScore reports whether a final relevance score passes the inclusive
// score bounds.
func (f Filter) MatchesScore(score float64) bool {
	if f.minScore != nil && score < *f.minScore {
		return false
	}
	if f.maxScore != nil && score > *f.maxScore {
		return false
	}
	return true
}

// CanonicalFields returns the filter as sorted "name=value" pairs. List
// fields are deduplicated and sorted, so structurally equal filters produce
// identical output regardless of construction order. Used for cache keys.
func (f Filter) CanonicalFields() []string {
	var fields []string
	if len(f.sources) > 0 {
		fields = append(fields, "sources="+strings.Join(f.sources, ","))
	}
	if f.minScore != nil {
		fields = append(fields, "min_score="+strconv.FormatFloat(*f.minScore, 'g', -1, 64))
	}
	if f.maxScore != nil {
		fields = append(fields, "max_score="+strconv.FormatFloat(*f.maxScore, 'g', -1, 64))
	}
	if f.dateFrom != nil {
		fields = append(fields, "date_from="+f.dateFrom.UTC().Format(time.RFC3339))
	}
	if f.dateTo != nil {
		fields = append(fields, "date_to="+f.dateTo.UTC().Format(time.RFC3339))
	}
	if f.hasImage != nil {
		fields = append(fields, "has_image="+strconv.FormatBool(*f.hasImage))
	}
	if f.isStarred != nil {
		fields = append(fields, "is_starred="+strconv.FormatBool(*f.isStarred))
	}
	if f.includeSpam {
		fields = append(fields, "include_spam=true")
	}
	if len(f.labels) > 0 {
		fields = append(fields, "labels="+strings.Join(f.labels, ","))
	}
	if f.qualityFloor != nil {
		fields = append(fields, "quality_floor="+strconv.Itoa(*f.qualityFloor))
	}
	if f.minWords != nil {
		fields = append(fields, "min_words="+strconv.Itoa(*f.minWords))
	}
	if f.maxWords != nil {
		fields = append(fields, "max_words="+strconv.Itoa(*f.maxWords))
	}
	if f.language != "" {
		fields = append(fields, "language="+f.language)
	}
	sort.Strings(fields)
	return fields
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsSorted(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
