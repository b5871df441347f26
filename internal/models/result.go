package models

// QueryResult is one ranked search hit.
type QueryResult struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	File       string  `json:"file"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
}

// SearchResponse is the response for a search request.
// TopK is the number of results actually returned.
type SearchResponse struct {
	Query   string         `json:"query"`
	TopK    int            `json:"topK"`
	Results []*QueryResult `json:"results"`
}
