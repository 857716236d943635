package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an unknown content id on a point lookup.
	ErrNotFound = errors.New("content not found")
	// ErrValidation signals bad pagination, filter, or sort values.
	ErrValidation = errors.New("validation failed")
	// ErrEmbeddingUnavailable signals an embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrIndexUnavailable signals a vector index failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrCacheUnavailable signals a shared cache tier failure.
	ErrCacheUnavailable = errors.New("shared cache unavailable")
	// ErrSearchFailed signals that every retrieval mode failed. It is the
	// only search error surfaced to callers as a hard failure; partial
	// failures degrade instead (see result.Response.Degraded).
	ErrSearchFailed = errors.New("search failed")
)

// ValidationError wraps ErrValidation with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation creates a field-level validation error.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
