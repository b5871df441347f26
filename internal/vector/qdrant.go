package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/models"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// errNotFound marks a 404 from Qdrant, which for collection calls means the collection is absent.
var errNotFound = errors.New("not found")

// QdrantStore talks to the Qdrant REST API.
type QdrantStore struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// QdrantOption configures a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) QdrantOption {
	return func(s *QdrantStore) { s.httpClient = c }
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *zap.Logger) QdrantOption {
	return func(s *QdrantStore) { s.logger = l }
}

// NewQdrantStore returns a client for collection on the Qdrant server at baseURL.
// apiKey may be empty.
func NewQdrantStore(baseURL, collection, apiKey string, timeout time.Duration, opts ...QdrantOption) *QdrantStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the collection name.
func (s *QdrantStore) Collection() string {
	return s.collection
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors json.RawMessage `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// EnsureCollection creates the collection with Cosine distance when it is missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	const op = "ensure collection"
	if dim <= 0 {
		return apperr.Store(op, fmt.Errorf("invalid vector size %d", dim))
	}
	var info qdrantCollectionInfo
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		var params qdrantVectorParams
		if uerr := json.Unmarshal(info.Config.Params.Vectors, &params); uerr != nil || params.Size == 0 {
			return apperr.Store(op, fmt.Errorf("collection %q uses named or unknown vector params", s.collection))
		}
		if params.Size != dim {
			return apperr.Store(op, fmt.Errorf("collection %q has vector size %d, embeddings have %d", s.collection, params.Size, dim))
		}
		return nil
	case !errors.Is(err, errNotFound):
		return apperr.Store(op, err)
	}

	body := map[string]interface{}{
		"vectors": qdrantVectorParams{Size: dim, Distance: "Cosine"},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return apperr.Store(op, err)
	}
	if s.logger != nil {
		s.logger.Info("created collection", zap.String("collection", s.collection), zap.Int("dimensions", dim))
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload models.Payload `json:"payload"`
}

// Upsert writes points with wait=true.
func (s *QdrantStore) Upsert(ctx context.Context, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]qdrantPoint, len(points))
	for i, p := range points {
		out[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	body := map[string]interface{}{"points": out}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return apperr.Store("upsert points", err)
	}
	return nil
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload models.Payload  `json:"payload"`
}

// Search returns up to limit points with payloads.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var result []qdrantScoredPoint
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &result); err != nil {
		return nil, apperr.Store("search points", err)
	}
	hits := make([]models.Hit, len(result))
	for i, r := range result {
		hits[i] = models.Hit{ID: pointID(r.ID), Score: r.Score, Payload: r.Payload}
	}
	return hits, nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]bool{"exact": true}, &result)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Store("count points", err)
	}
	return result.Count, nil
}

type fieldMatch struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

func matchField(key, value string) fieldMatch {
	m := fieldMatch{Key: key}
	m.Match.Value = value
	return m
}

// DeleteStale deletes points of file by payload filter. A missing collection holds nothing to delete.
func (s *QdrantStore) DeleteStale(ctx context.Context, file, keepRunID string) error {
	filter := map[string]interface{}{
		"must": []fieldMatch{matchField("file", file)},
	}
	if keepRunID != "" {
		filter["must_not"] = []fieldMatch{matchField("run_id", keepRunID)}
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]interface{}{"filter": filter}, nil)
	if err == nil || errors.Is(err, errNotFound) {
		return nil
	}
	return apperr.Store("delete stale points", err)
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

// do sends body as JSON and decodes the "result" field of the answer into out.
func (s *QdrantStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if s.logger != nil {
		s.logger.Debug("qdrant request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("took", time.Since(start)),
		)
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, errNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: qdrant returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s %s: decode result: %w", method, path, err)
	}
	return nil
}

// pointID renders a Qdrant point id, which is either a UUID string or an unsigned integer.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
