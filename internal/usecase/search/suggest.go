package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/index"
)

// MaxSuggestions caps the suggestion list per response.
const MaxSuggestions = 5

// highlightWindow is the number of characters kept around a body match.
const highlightWindow = 60

// buildSuggestions proposes related searches: titles from the filtered
// universe that share at least one token with the query but are not the
// query itself. Titles sharing more tokens rank first; ties break
// alphabetically so the list is deterministic.
func buildSuggestions(allowed []*index.Entry, q query.Query) []string {
	tokens := q.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	type scored struct {
		title   string
		overlap int
	}
	seen := make(map[string]struct{}, len(allowed))
	var candidates []scored

	for _, e := range allowed {
		title := e.Item.Title()
		norm := query.Normalize(title)
		if norm == q.Normalized() {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		overlap := tokenOverlap(tokens, norm)
		if overlap == 0 {
			continue
		}
		seen[norm] = struct{}{}
		candidates = append(candidates, scored{title: title, overlap: overlap})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].title < candidates[j].title
	})

	if len(candidates) > MaxSuggestions {
		candidates = candidates[:MaxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.title
	}
	return out
}

func tokenOverlap(tokens []string, normalizedTitle string) int {
	titleTokens := strings.Fields(normalizedTitle)
	set := make(map[string]struct{}, len(titleTokens))
	for _, t := range titleTokens {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

// buildHighlights extracts short spans around query token matches, title
// first, then body preview, in document order.
func buildHighlights(snap *index.Snapshot, id string, q query.Query) []string {
	e := snap.Get(id)
	if e == nil {
		return nil
	}

	var spans []string
	if span := matchSpan(e.Item.Title(), q.Tokens(), 0); span != "" {
		spans = append(spans, span)
	}
	if span := matchSpan(e.Item.BodyPreview(), q.Tokens(), highlightWindow); span != "" {
		spans = append(spans, span)
	}
	return spans
}

// matchSpan returns the text around the first query token occurrence.
// A zero window returns the whole text.
func matchSpan(text string, tokens []string, window int) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	pos := -1
	for _, t := range tokens {
		if i := strings.Index(lower, t); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		return ""
	}
	if window == 0 {
		return text
	}

	start := pos - window/2
	if start < 0 {
		start = 0
	}
	end := pos + window
	if end > len(text) {
		end = len(text)
	}
	// Snap the window to rune boundaries so multi-byte text is never split.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	span := strings.TrimSpace(text[start:end])
	if start > 0 {
		span = "..." + span
	}
	if end < len(text) {
		span += "..."
	}
	return span
}
