// Package mode defines the retrieval strategy enum.
package mode

// Mode is the retrieval strategy.
type Mode string

// Retrieval mode constants.
const (
	// Hybrid combines semantic and keyword retrieval with a weighted merge.
	Hybrid   Mode = "hybrid"
	Semantic Mode = "semantic"
	Keyword  Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Keyword
}

// NeedsEmbedding reports whether the mode requires a query embedding.
func (m Mode) NeedsEmbedding() bool {
	return m == Hybrid || m == Semantic
}
