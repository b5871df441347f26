// Package search answers similarity queries against the vector store.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/embedding"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/vector"
	"github.com/hyperjump/codesearch/pkg/utils"
	"go.uber.org/zap"
)

// Service embeds a query and returns the nearest chunks. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	embedder embedding.Embedder
	vectors  vector.Store
	config   config.SearchConfig
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for per-query debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a query service.
func NewService(embedder embedding.Embedder, vectors vector.Store, cfg config.SearchConfig, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		vectors:  vectors,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Search returns at most top-k results ordered by descending score.
// A blank query or negative top-k is a client request error, an embedding failure
// an upstream error, and a vector store failure a store error.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := ProcessQuery(&req, s.config); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, apperr.Upstream("embed query", err)
	}
	hits, err := s.vectors.Search(ctx, vec, req.TopK)
	if err != nil {
		return nil, apperr.Store("search vectors", err)
	}

	results := make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, &models.QueryResult{
			ID:         h.ID,
			Score:      h.Score,
			File:       h.Payload.File,
			ChunkIndex: h.Payload.ChunkIndex,
			Text:       h.Payload.Content,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	s.logger.Debug("search",
		zap.String("query", utils.Truncate(utils.OneLine(req.Query), 80)),
		zap.Int("top_k", req.TopK),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return &models.SearchResponse{
		Query:   req.Query,
		TopK:    len(results),
		Results: results,
	}, nil
}
