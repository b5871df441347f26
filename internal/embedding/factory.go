package embedding

import (
	"fmt"

	"github.com/hyperjump/codesearch/internal/config"
	"go.uber.org/zap"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderHTTP posts JSON arrays to a self-hosted embedding server.
	ProviderHTTP Provider = "http"
	// ProviderOpenAI uses the OpenAI embeddings API.
	ProviderOpenAI Provider = "openai"
)

// New creates the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch Provider(cfg.Provider) {
	case ProviderHTTP, "":
		opts := []HTTPOption{}
		if logger != nil {
			opts = append(opts, WithLogger(logger))
		}
		return NewHTTPEmbedder(cfg.URL, cfg.Timeout, opts...), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: http, openai)", cfg.Provider)
	}
}
