package retriever

import (
	"math"
	"strings"

	"github.com/pressfeed/searchcore/internal/domain/search/query"
	"github.com/pressfeed/searchcore/internal/index"
)

// keywordIndex is the in-process sparse index: term frequencies per document
// and document frequencies across the snapshot. Rebuilt whenever the content
// index generation changes.
type keywordIndex struct {
	generation uint64
	docCount   int
	df         map[string]int
	docs       map[string]*keywordDoc
}

type keywordDoc struct {
	tf          map[string]float64
	titleTerms  map[string]struct{}
	totalTokens int
}

func buildKeywordIndex(snap *index.Snapshot) *keywordIndex {
	ki := &keywordIndex{
		generation: snap.Generation,
		docCount:   len(snap.Entries),
		df:         make(map[string]int),
		docs:       make(map[string]*keywordDoc, len(snap.Entries)),
	}

	for _, e := range snap.Entries {
		tokens := strings.Fields(query.Normalize(e.Item.SearchText()))
		doc := &keywordDoc{
			tf:          make(map[string]float64, len(tokens)),
			titleTerms:  make(map[string]struct{}),
			totalTokens: len(tokens),
		}
		for _, t := range tokens {
			doc.tf[t]++
		}
		for t := range doc.tf {
			ki.df[t]++
		}
		for _, t := range strings.Fields(query.Normalize(e.Item.Title())) {
			doc.titleTerms[t] = struct{}{}
		}
		ki.docs[e.Item.ID()] = doc
	}

	return ki
}

// keywordHit is a raw sparse-scored document before normalization.
type keywordHit struct {
	id         string
	score      float64
	titleMatch bool
}

// score computes TF-IDF similarity for the given terms over every document,
// with a boost for terms appearing in the title. Scores are raw; the caller
// normalizes by the maximum so keyword scores land in [0,1].
func (ki *keywordIndex) score(terms []string) []keywordHit {
	if ki.docCount == 0 || len(terms) == 0 {
		return nil
	}

	hits := make(map[string]*keywordHit)
	total := float64(ki.docCount)

	for _, term := range terms {
		df := ki.df[term]
		if df == 0 {
			continue
		}
		idf := math.Log(total/float64(df)) + 1

		for id, doc := range ki.docs {
			rawTF := doc.tf[term]
			if rawTF == 0 {
				continue
			}
			tf := rawTF / float64(max(doc.totalTokens, 1))

			h, ok := hits[id]
			if !ok {
				h = &keywordHit{id: id}
				hits[id] = h
			}
			_, inTitle := doc.titleTerms[term]
			boost := 1.0
			if inTitle {
				boost = 2.0
				h.titleMatch = true
			}
			h.score += tf * idf * boost
		}
	}

	out := make([]keywordHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, *h)
	}
	return out
}
