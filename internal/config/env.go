package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into the
// process environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.Config("load "+f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the environment variables understood by the
// indexer and the query server. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return apperr.Config("env "+key, err)
		}
		*dst = n
		return nil
	}

	str("QDRANT_URL", &cfg.Vector.URL)
	str("QDRANT_COLLECTION", &cfg.Vector.Collection)
	str("QDRANT_API_KEY", &cfg.Vector.APIKey)
	str("EMBED_SERVER", &cfg.Embedding.URL)
	str("OPENAI_API_KEY", &cfg.Embedding.APIKey)
	str("PATHS_FILE", &cfg.Index.PathsFile)
	str("STATE_FILE", &cfg.State.Path)

	for key, dst := range map[string]*int{
		"CHUNK_SIZE":    &cfg.Index.ChunkSize,
		"CHUNK_OVERLAP": &cfg.Index.ChunkOverlap,
		"BATCH_SIZE":    &cfg.Index.BatchSize,
		"SERVER_PORT":   &cfg.Server.Port,
		"TOP_K":         &cfg.Search.DefaultTopK,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}
