package embedding

import (
	"context"

	"go.uber.org/zap"
)

// FallbackEmbedder wraps a primary embedder and recovers from its failures
// with a deterministic hash embedding of the same dimensionality, so that
// degraded-mode vectors never violate a collection's established dimension.
// Fallback use is logged as a degraded-mode event, never propagated.
type FallbackEmbedder struct {
	primary Embedder
	local   *HashEmbedder
	logger  *zap.Logger
}

// NewFallbackEmbedder wraps primary with a hash fallback matching its dimensions.
func NewFallbackEmbedder(primary Embedder, logger *zap.Logger) *FallbackEmbedder {
	return &FallbackEmbedder{
		primary: primary,
		local:   NewHashEmbedder(primary.Dimensions()),
		logger:  logger,
	}
}

// Embed returns the primary embedding, or the local fallback when the primary fails.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	e.logger.Warn("remote embedding failed, falling back to local hash embedding",
		zap.Error(err),
		zap.Int("text_len", len(text)),
	)
	return e.local.Embed(ctx, text)
}

// EmbedBatch embeds each text independently so one failing call degrades only
// that text, not the whole batch.
func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the primary embedder's dimension.
func (e *FallbackEmbedder) Dimensions() int { return e.primary.Dimensions() }

// Close closes the primary embedder.
func (e *FallbackEmbedder) Close() error { return e.primary.Close() }
