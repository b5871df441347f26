package vector

import (
	"fmt"

	"github.com/hyperjump/codesearch/internal/config"
	"go.uber.org/zap"
)

// Backend names a vector store implementation.
type Backend string

const (
	// BackendQdrant uses a Qdrant server over its REST API.
	BackendQdrant Backend = "qdrant"
	// BackendMemory uses brute-force search in process. Good for small corpora and tests.
	BackendMemory Backend = "memory"
)

// NewStore creates the vector store selected by cfg.Backend.
// The memory backend loads cfg.Path when it exists.
func NewStore(cfg config.VectorConfig, logger *zap.Logger) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendQdrant, "":
		var opts []QdrantOption
		if logger != nil {
			opts = append(opts, WithLogger(logger))
		}
		return NewQdrantStore(cfg.URL, cfg.Collection, cfg.APIKey, cfg.Timeout, opts...), nil
	case BackendMemory:
		m := NewMemoryStore(cfg.Path)
		if err := m.Load(cfg.Path); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: qdrant, memory)", cfg.Backend)
	}
}
