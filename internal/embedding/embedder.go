// Package embedding provides text embedding via a remote provider with a
// deterministic local fallback.
package embedding

import (
	"context"
	"fmt"
	"os"

	"github.com/studyhall/kioku/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ProviderError reports a failed remote embedding call (transport, auth,
// rate limit, or timeout).
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// New builds the embedder stack from config. With a remote credential present
// (and provider "auto" or "openai"), the remote provider is wrapped in a
// degraded-mode fallback of matching dimensionality; otherwise the local hash
// embedder is used directly. The LRU cache sits beneath the fallback, so
// degraded-mode vectors are never cached and a recovered provider is consulted
// again for texts embedded during an outage.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) Embedder {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if cfg.Provider != "local" && apiKey != "" {
		remote := NewOpenAIEmbedder(apiKey, cfg)
		var primary Embedder = remote
		if cfg.CacheSize > 0 {
			primary = NewCachingEmbedder(primary, cfg.CacheSize)
		}
		logger.Info("using remote embeddings with local fallback",
			zap.String("model", cfg.Model),
			zap.Int("dimensions", remote.Dimensions()),
		)
		return NewFallbackEmbedder(primary, logger)
	}
	if cfg.Provider == "openai" {
		logger.Warn("no remote credential configured, using local hash embeddings",
			zap.String("api_key_env", cfg.APIKeyEnv))
	} else {
		logger.Info("using local hash embeddings", zap.Int("dimensions", cfg.LocalDimensions))
	}
	var base Embedder = NewHashEmbedder(cfg.LocalDimensions)
	if cfg.CacheSize > 0 {
		base = NewCachingEmbedder(base, cfg.CacheSize)
	}
	return base
}
