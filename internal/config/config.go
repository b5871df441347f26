// Package config provides configuration loading and structs for codesearch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is loaded once at
// startup and passed by pointer to constructors; nothing mutates it afterwards.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	State     StateConfig     `yaml:"state"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// IndexConfig holds scanning and chunking settings for the indexing pipeline.
type IndexConfig struct {
	// PathsFile lists root directories, one per line. Ignored when Directories is set.
	PathsFile      string      `yaml:"paths_file"`
	Directories    []string    `yaml:"directories"`
	Extensions     []string    `yaml:"extensions"`
	Exclude        []string    `yaml:"exclude"`
	FollowSymlinks *bool       `yaml:"follow_symlinks"`
	ChunkSize      int         `yaml:"chunk_size"`
	ChunkOverlap   int         `yaml:"chunk_overlap"`
	BatchSize      int         `yaml:"batch_size"`
	Workers        int         `yaml:"workers"`
	PruneDeleted   *bool       `yaml:"prune_deleted"`
	Retry          RetryConfig `yaml:"retry"`
}

// FollowSymlinksOrDefault returns whether the scanner follows symbolic links; defaults to true when unset.
func (c *IndexConfig) FollowSymlinksOrDefault() bool {
	if c.FollowSymlinks != nil {
		return *c.FollowSymlinks
	}
	return true
}

// PruneDeletedOrDefault returns whether files missing from a scan are dropped from
// the index state; defaults to true when unset.
func (c *IndexConfig) PruneDeletedOrDefault() bool {
	if c.PruneDeleted != nil {
		return *c.PruneDeleted
	}
	return true
}

// RetryConfig configures exponential backoff around embedding and upsert calls.
// MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// StateConfig selects where the path to fingerprint mapping is persisted.
type StateConfig struct {
	Backend string `yaml:"backend"` // json, sqlite, or bolt
	Path    string `yaml:"path"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // http or openai
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// VectorConfig holds vector database settings.
type VectorConfig struct {
	Backend    string        `yaml:"backend"` // qdrant or memory
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	// Path is where the memory backend persists its points. Empty keeps them in memory only.
	Path string `yaml:"path"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// WatchConfig holds directory watch settings used by "server --watch".
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns a configuration with every default applied, for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("read config", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Config("parse config", err)
	}

	// Paths written in the file are relative to the file; defaults stay relative to the working directory.
	configDir := filepath.Dir(path)
	cfg.Index.PathsFile = expandPath(cfg.Index.PathsFile, configDir)
	cfg.State.Path = expandPath(cfg.State.Path, configDir)
	cfg.Vector.Path = expandPath(cfg.Vector.Path, configDir)
	for i := range cfg.Index.Directories {
		cfg.Index.Directories[i] = expandPath(cfg.Index.Directories[i], configDir)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Resolve builds the effective configuration: the file at path (or defaults when
// path is empty), then environment overrides, then validation.
func Resolve(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks numeric ranges and backend names. Every failure is a config error.
func (c *Config) Validate() error {
	ix := c.Index
	switch {
	case ix.ChunkSize <= 0:
		return apperr.Configf("index.chunk_size must be positive, got %d", ix.ChunkSize)
	case ix.ChunkOverlap < 0:
		return apperr.Configf("index.chunk_overlap must not be negative, got %d", ix.ChunkOverlap)
	case ix.ChunkOverlap >= ix.ChunkSize:
		return apperr.Configf("index.chunk_overlap (%d) must be smaller than index.chunk_size (%d)", ix.ChunkOverlap, ix.ChunkSize)
	case ix.BatchSize <= 0:
		return apperr.Configf("index.batch_size must be positive, got %d", ix.BatchSize)
	case ix.Workers <= 0:
		return apperr.Configf("index.workers must be positive, got %d", ix.Workers)
	case ix.Retry.MaxAttempts <= 0:
		return apperr.Configf("index.retry.max_attempts must be positive, got %d", ix.Retry.MaxAttempts)
	case c.Search.DefaultTopK <= 0:
		return apperr.Configf("search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	case c.Search.MaxTopK < c.Search.DefaultTopK:
		return apperr.Configf("search.max_top_k (%d) must be at least search.default_top_k (%d)", c.Search.MaxTopK, c.Search.DefaultTopK)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return apperr.Configf("server.port out of range: %d", c.Server.Port)
	case strings.TrimSpace(c.Vector.Collection) == "":
		return apperr.Configf("vector.collection must not be empty")
	}
	if !oneOf(c.State.Backend, "json", "sqlite", "bolt") {
		return apperr.Configf("unknown state.backend %q (supported: json, sqlite, bolt)", c.State.Backend)
	}
	if !oneOf(c.Vector.Backend, "qdrant", "memory") {
		return apperr.Configf("unknown vector.backend %q (supported: qdrant, memory)", c.Vector.Backend)
	}
	if !oneOf(c.Embedding.Provider, "http", "openai") {
		return apperr.Configf("unknown embedding.provider %q (supported: http, openai)", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "http" && c.Embedding.URL == "" {
		return apperr.Configf("embedding.url is required for the http provider")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return apperr.Configf("embedding.api_key (or OPENAI_API_KEY) is required for the openai provider")
	}
	return nil
}

// Roots returns the directories to index: Index.Directories when set, otherwise
// the entries of the paths file.
func (c *Config) Roots() ([]string, error) {
	if len(c.Index.Directories) > 0 {
		return append([]string(nil), c.Index.Directories...), nil
	}
	return ReadPaths(c.Index.PathsFile)
}

// Addr returns the listen address of the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// expandPath resolves "~/" against the home directory and other relative paths against
// configDir. Empty and absolute paths are returned unchanged.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
