// Package vector stores embedded chunks and answers nearest-neighbour queries.
package vector

import (
	"context"

	"github.com/hyperjump/codesearch/internal/models"
)

// Store is a collection of embedded points. Every failure is a store error.
type Store interface {
	// EnsureCollection creates the collection with dim-sized cosine vectors, or
	// checks that an existing collection has that size.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert writes points and returns once they are applied.
	Upsert(ctx context.Context, points []models.Point) error
	// Search returns up to limit points nearest to vector, best first.
	Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error)
	// Count returns the number of stored points; 0 if the collection does not exist.
	Count(ctx context.Context) (int, error)
	// DeleteStale removes the points of file not written by keepRunID.
	// An empty keepRunID removes every point of file.
	DeleteStale(ctx context.Context, file, keepRunID string) error
	Close() error
}
