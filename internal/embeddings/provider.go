// Package embeddings provides the embedding provider contract and its
// Ollama-backed implementation.
package embeddings

import (
	"context"
	"fmt"
)

// Provider turns text into fixed-length vectors. Batch and single-item
// calls are referentially consistent: the same text embeds to the same
// vector via either path. No caching happens at this layer; callers that
// want caching wrap the provider (see CachedProvider).
type Provider interface {
	// EmbedDocuments embeds a batch of texts, one vector per input, in
	// input order. Fails with EmbeddingError on an empty batch, an empty
	// input string, or an unreachable/malformed model service.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the length of the vectors this provider produces.
	Dimension() int
}

// EmbeddingError reports a failure to produce embeddings: empty input,
// unreachable model service, or a malformed response.
type EmbeddingError struct {
	Operation string
	Err       error
	Message   string
}

func (e *EmbeddingError) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("embedding %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("embedding %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("embedding %s: %v", e.Operation, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NewEmbeddingError creates an EmbeddingError for the given operation.
func NewEmbeddingError(operation string, err error, message string) *EmbeddingError {
	return &EmbeddingError{Operation: operation, Err: err, Message: message}
}
