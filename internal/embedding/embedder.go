// Package embedding turns text into vectors through an external embedding service.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/codesearch/internal/apperr"
)

// Embedder produces vector embeddings for text. EmbedBatch returns exactly one
// vector per input, in input order, or an error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector size, or 0 until the first successful call.
	Dimensions() int
	Close() error
}

// checkCount enforces the one-vector-per-input contract. A short or long
// response is never zipped or truncated.
func checkCount(op string, texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return apperr.Upstream(op, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(texts)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return apperr.Upstream(op, fmt.Errorf("embedding service returned an empty vector at position %d", i))
		}
		if len(v) != len(vectors[0]) {
			return apperr.Upstream(op, fmt.Errorf("embedding service returned mixed dimensions: %d and %d", len(vectors[0]), len(v)))
		}
	}
	return nil
}

// embedOne runs a batch of one through e.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
