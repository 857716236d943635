package health

import "context"

// StorePinger checks connectivity to the shared cache and vector store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker verifies the embedding provider is reachable.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexCounter reports the number of indexed items.
type IndexCounter interface {
	Count() int
}
