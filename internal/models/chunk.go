// Package models defines core data structures for chunks, vector points, queries, and search results.
package models

// Chunk is a contiguous window of a source file's text. Start and End are
// character (rune) offsets, half-open.
type Chunk struct {
	ID    string `json:"id"`
	File  string `json:"file"`
	Index int    `json:"chunk_index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Payload is the metadata stored alongside each vector.
type Payload struct {
	File       string `json:"file"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content,omitempty"`
	ChunkID    string `json:"chunk_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// Point is a vector database record. ID is freshly minted for every indexing run.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Hit is a raw nearest-neighbour match returned by a vector store.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}
