package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Index.PathsFile == "" {
		cfg.Index.PathsFile = "paths.txt"
	}
	if cfg.Index.Extensions == nil {
		cfg.Index.Extensions = []string{".php"}
	}
	if cfg.Index.Exclude == nil {
		cfg.Index.Exclude = []string{"registration.php"}
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 1000
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 150
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 128
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 8
	}
	if cfg.Index.Retry.MaxAttempts == 0 {
		cfg.Index.Retry.MaxAttempts = 1
	}
	if cfg.Index.Retry.InitialDelay == 0 {
		cfg.Index.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Index.Retry.MaxDelay == 0 {
		cfg.Index.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Index.Retry.Multiplier == 0 {
		cfg.Index.Retry.Multiplier = 2
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "json"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath(cfg.State.Backend)
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}
	if cfg.Embedding.URL == "" && cfg.Embedding.Provider == "http" {
		cfg.Embedding.URL = "http://localhost:8001/embed"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "qdrant"
	}
	if cfg.Vector.URL == "" {
		cfg.Vector.URL = "http://localhost:6333"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "php_codebase"
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = 30 * time.Second
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}

func defaultStatePath(backend string) string {
	switch backend {
	case "sqlite":
		return "indexed.db"
	case "bolt":
		return "indexed.bolt"
	default:
		return "indexed.json"
	}
}
