// Package server provides the HTTP API for codesearch.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
	"go.uber.org/zap"
)

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

// Indexer triggers and reports indexing runs.
type Indexer interface {
	Run(ctx context.Context) (*indexer.RunReport, error)
	Progress() indexer.Progress
	LastReport() *indexer.RunReport
}

// Server is the HTTP server for the codesearch API.
type Server struct {
	search  Searcher
	index   Indexer
	vectors vector.Store
	state   state.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	search Searcher,
	index Indexer,
	vectors vector.Store,
	st state.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		search:  search,
		index:   index,
		vectors: vectors,
		state:   st,
		config:  cfg,
		logger:  logger,
	}
}

// Router returns the API routes. Indexing runs are exempt from the request timeout.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
	})
	r.Post("/index", s.handleIndex)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
