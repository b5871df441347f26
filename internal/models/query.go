package models

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyQuery is returned when a search request has no query text.
	ErrEmptyQuery = errors.New("Missing 'query' in request body")
	// ErrInvalidTopK is returned when topK is negative.
	ErrInvalidTopK = errors.New("topK must be a positive integer")
)

// SearchRequest is the body of POST /search. TopK is optional; zero means the default.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

// Normalize validates the request and resolves TopK against the configured default and cap.
func (r *SearchRequest) Normalize(defaultTopK, maxTopK int) error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	if r.TopK < 0 {
		return ErrInvalidTopK
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	return nil
}
