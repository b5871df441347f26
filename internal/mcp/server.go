// Package mcp exposes search, indexing and status as Model Context Protocol tools over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
)

// ServerName is the MCP server name
const ServerName = "codesearch"

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

// Indexer runs and reports indexing runs.
type Indexer interface {
	Run(ctx context.Context) (*indexer.RunReport, error)
	Progress() indexer.Progress
	LastReport() *indexer.RunReport
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	search  Searcher
	index   Indexer
	vectors vector.Store
	state   state.Store
	cfg     *config.Config
	logger  *zap.Logger
}

// NewServer creates an MCP server over already-initialized services.
func NewServer(search Searcher, index Indexer, vectors vector.Store, st state.Store, cfg *config.Config, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version),
		search:  search,
		index:   index,
		vectors: vectors,
		state:   st,
		cfg:     cfg,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP tools on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(s.cfg.Search.MaxTopK), s.handleSearchCode)
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
