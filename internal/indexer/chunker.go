// Package indexer provides source chunking and the incremental indexing pipeline.
package indexer

import (
	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/fingerprint"
	"github.com/hyperjump/codesearch/internal/models"
)

// Chunker splits text into overlapping fixed-size character windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// Span is a half-open [Start, End) range of character offsets.
type Span struct {
	Start int
	End   int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// The size must be positive and the overlap must lie in [0, size).
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperr.Configf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, apperr.Configf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Split returns the window ranges over n characters. Each window after the first
// starts overlap characters before the previous one ended; the last window ends at n
// and may be shorter than the chunk size.
func (c *Chunker) Split(n int) []Span {
	if n <= 0 {
		return nil
	}
	spans := make([]Span, 0, n/(c.chunkSize-c.chunkOverlap)+1)
	cursor := 0
	for {
		end := cursor + c.chunkSize
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: cursor, End: end})
		if end == n {
			return spans
		}
		cursor = end - c.chunkOverlap
		if cursor < 0 {
			cursor = 0
		}
	}
}

// Chunk splits the text of file into chunks with deterministic IDs.
func (c *Chunker) Chunk(file, text string) []models.Chunk {
	runes := []rune(text)
	spans := c.Split(len(runes))
	if len(spans) == 0 {
		return nil
	}
	chunks := make([]models.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = models.Chunk{
			ID:    fingerprint.ChunkID(file, i),
			File:  file,
			Index: i,
			Start: s.Start,
			End:   s.End,
			Text:  string(runes[s.Start:s.End]),
		}
	}
	return chunks
}
