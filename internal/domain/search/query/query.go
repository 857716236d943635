// Package query derives a structured search query from raw text.
package query

import (
	"strings"
	"unicode"
)

// MaxLength is the maximum allowed raw query length.
const MaxLength = 1024

// Intent classifies what the user is trying to do with the query.
type Intent string

// Query intent constants.
const (
	Informational Intent = "informational"
	Navigational  Intent = "navigational"
	Transactional Intent = "transactional"
)

// abbreviations maps recognized domain acronyms to a bounded synonym set.
// Expansion feeds keyword matching only; semantic matching embeds the
// original text, since expanded phrases would shift the embedding's meaning.
var abbreviations = map[string][]string{
	"api": {"application programming interface"},
	"ai":  {"artificial intelligence", "machine learning"},
	"ml":  {"machine learning"},
	"llm": {"large language model"},
	"db":  {"database"},
	"k8s": {"kubernetes"},
	"vc":  {"venture capital"},
	"ipo": {"initial public offering"},
	"m&a": {"mergers and acquisitions"},
	"cpi": {"consumer price index"},
	"gdp": {"gross domestic product"},
	"fx":  {"foreign exchange", "currency"},
	"ui":  {"user interface"},
	"cli": {"command line interface"},
}

var navigationalMarkers = []string{"homepage", "login", "official site", "website", "sign in"}

var transactionalMarkers = []string{"buy", "subscribe", "download", "price", "pricing", "order", "purchase"}

// Query is the derived form of raw query text.
type Query struct {
	original      string
	normalized    string
	tokens        []string
	intent        Intent
	expandedTerms []string
	embedding     []float32
}

// New derives a Query from raw text. Empty input yields an empty query,
// which is valid for filter-only browsing.
func New(raw string) Query {
	norm := Normalize(raw)
	tokens := strings.Fields(norm)

	return Query{
		original:      raw,
		normalized:    norm,
		tokens:        tokens,
		intent:        classifyIntent(norm, tokens),
		expandedTerms: expand(tokens),
	}
}

// Normalize lowercases, strips punctuation, and collapses whitespace.
// Word-internal hyphens, ampersands and digits survive so tickers and
// acronyms like "m&a" keep their shape.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Original returns the raw query text.
func (q *Query) Original() string { return q.original }

// Normalized returns the lowercased, punctuation-stripped form.
func (q *Query) Normalized() string { return q.normalized }

// Tokens returns the normalized query tokens.
func (q *Query) Tokens() []string { return q.tokens }

// Intent returns the classified query intent.
func (q *Query) Intent() Intent { return q.intent }

// ExpandedTerms returns synonym expansions for keyword matching.
func (q *Query) ExpandedTerms() []string { return q.expandedTerms }

// IsEmpty reports whether the query has no searchable text.
func (q *Query) IsEmpty() bool { return q.normalized == "" }

// Embedding returns the query embedding, nil before vectorization.
func (q *Query) Embedding() []float32 { return q.embedding }

// WithEmbedding returns a copy carrying the query embedding.
func (q *Query) WithEmbedding(vec []float32) Query {
	c := *q
	c.embedding = vec
	return c
}

// KeywordTerms returns tokens plus expanded synonym tokens, deduplicated,
// for sparse matching.
func (q *Query) KeywordTerms() []string {
	if len(q.expandedTerms) == 0 {
		return q.tokens
	}
	seen := make(map[string]struct{}, len(q.tokens))
	out := make([]string, 0, len(q.tokens)+len(q.expandedTerms)*2)
	for _, t := range q.tokens {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, phrase := range q.expandedTerms {
		for _, t := range strings.Fields(phrase) {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

// KeywordText joins KeywordTerms for sparse backends that take free text
// instead of a term list.
func (q *Query) KeywordText() string { return strings.Join(q.KeywordTerms(), " ") }

func classifyIntent(normalized string, tokens []string) Intent {
	for _, m := range transactionalMarkers {
		for _, t := range tokens {
			if t == m {
				return Transactional
			}
		}
	}
	for _, m := range navigationalMarkers {
		if strings.Contains(normalized, m) {
			return Navigational
		}
	}
	return Informational
}

func expand(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if phrases, ok := abbreviations[t]; ok {
			out = append(out, phrases...)
		}
	}
	return out
}
