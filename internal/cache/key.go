package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Category namespaces the key space. Invalidating one category never
// touches another.
type Category string

// Cache categories with differentiated TTLs.
const (
	CategorySearch  Category = "search"
	CategoryFacets  Category = "facets"
	CategorySuggest Category = "suggest"
	CategoryPopular Category = "popular"
)

// Default TTLs per category.
const (
	DefaultSearchTTL  = 5 * time.Minute
	DefaultFacetsTTL  = 30 * time.Minute
	DefaultSuggestTTL = 60 * time.Minute
	DefaultPopularTTL = 30 * time.Minute
)

// IsValid checks the category is a known namespace.
func (c Category) IsValid() bool {
	switch c {
	case CategorySearch, CategoryFacets, CategorySuggest, CategoryPopular:
		return true
	}
	return false
}

// Key derives a deterministic category-qualified cache key from the
// normalized query, canonical filter fields, whitelisted settings fields,
// and search mode. Field slices are sorted and deduplicated before hashing,
// so two logically identical searches expressed with different field
// ordering or duplicate list entries yield the same key.
func Key(category Category, normalizedQuery string, filterFields, settingsFields []string, searchMode string) string {
	parts := make([]string, 0, 3+len(filterFields)+len(settingsFields))
	parts = append(parts, "q="+normalizedQuery, "mode="+searchMode)
	parts = append(parts, canonicalize(filterFields)...)
	parts = append(parts, canonicalize(settingsFields)...)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return string(category) + ":" + hex.EncodeToString(sum[:])
}

func canonicalize(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
