package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// HTTPEmbedder calls an embedding service that accepts a JSON array of strings and
// answers with {"vectors": [...]} or {"embeddings": [...]}.
type HTTPEmbedder struct {
	url        string
	httpClient *http.Client
	dimensions atomic.Int64
	logger     *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithHTTPClient replaces the default client (used by tests and custom transports).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.httpClient = c }
}

// WithLogger sets a logger for request debug output.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = l }
}

// NewHTTPEmbedder creates a client for the service at url. timeout bounds each request.
func NewHTTPEmbedder(url string, timeout time.Duration, opts ...HTTPOption) *HTTPEmbedder {
	e := &HTTPEmbedder{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedResponse struct {
	Vectors    [][]float32 `json:"vectors"`
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch posts texts and returns one vector per text. Transport failures,
// non-2xx answers, undecodable bodies and count mismatches are upstream errors.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	const op = "embed batch"
	body, err := json.Marshal(texts)
	if err != nil {
		return nil, apperr.Upstream(op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Upstream(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Upstream(op, fmt.Errorf("call %s: %w", e.url, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperr.Upstream(op, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, bytes.TrimSpace(b)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Upstream(op, fmt.Errorf("decode response: %w", err))
	}
	vectors := out.Vectors
	if vectors == nil {
		vectors = out.Embeddings
	}
	if vectors == nil {
		return nil, apperr.Upstream(op, errors.New(`response has neither "vectors" nor "embeddings"`))
	}
	if err := checkCount(op, texts, vectors); err != nil {
		return nil, err
	}
	e.dimensions.Store(int64(len(vectors[0])))

	if e.logger != nil {
		e.logger.Debug("embedded batch",
			zap.Int("texts", len(texts)),
			zap.Int("dimensions", len(vectors[0])),
			zap.Duration("took", time.Since(start)),
		)
	}
	return vectors, nil
}

// Embed embeds a single text as a batch of one.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// Dimensions returns the vector size observed in the last response.
func (e *HTTPEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
