package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/embedding"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/scanner"
	"github.com/hyperjump/codesearch/internal/search"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/vector"
	"go.uber.org/zap"
)

// defaultConfigName is looked up in the working directory when --config is not given.
const defaultConfigName = "config.yaml"

// loadConfig loads .env, then the config file, then environment overrides.
// An empty path falls back to ./config.yaml when it exists, otherwise to defaults.
// Returns the config and the path that was actually loaded ("" for none).
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, defaultConfigName)
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Resolve(path, os.LookupEnv)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Components holds initialized services.
type Components struct {
	State    state.Store
	Embedder embedding.Embedder
	Vectors  vector.Store
	Scanner  *scanner.Scanner
	Pipeline *indexer.Pipeline
	Search   *search.Service
}

// Close releases stores and clients.
func (c *Components) Close() {
	if c.State != nil {
		_ = c.State.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	st, err := state.Open(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open index state: %w", err)
	}
	c.State = st

	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = emb

	vectors, err := vector.NewStore(cfg.Vector, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	c.Vectors = vectors

	c.Scanner = scanner.NewScanner(
		cfg.Index.Extensions,
		cfg.Index.Exclude,
		scanner.WithFollowSymlinks(cfg.Index.FollowSymlinksOrDefault()),
		scanner.WithLogger(logger),
	)

	c.Pipeline, err = indexer.NewPipeline(cfg, c.Scanner, st, emb, vectors, indexer.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	// The LRU sits on the query path only.
	var queryEmbedder embedding.Embedder = emb
	if cfg.Embedding.CacheSize > 0 {
		queryEmbedder = embedding.NewCachedEmbedder(emb, cfg.Embedding.CacheSize)
	}
	c.Search = search.NewService(queryEmbedder, vectors, cfg.Search, search.WithLogger(logger))

	logger.Debug("components initialized",
		zap.String("state_backend", cfg.State.Backend),
		zap.String("state_path", st.Path()),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("collection", cfg.Vector.Collection),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)
	ok = true
	return c, nil
}
