package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

const defaultHashDimensions = 128

// HashEmbedder derives a fixed-length vector from a SHA-256 hash of the input
// bytes. The same text always gets the same embedding, across runs and
// processes. Used when no remote credential is configured and as the
// degraded-mode fallback when the remote provider fails.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a deterministic embedder of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic, L2-normalized embedding for text. The digest
// of the input seeds a counter-mode expansion: block i is SHA-256(digest || i),
// and each 4-byte word maps to a component in [-1, 1).
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dimensions)
	var counter [4]byte
	for i := 0; i < e.dimensions; i += 8 {
		binary.LittleEndian.PutUint32(counter[:], uint32(i/8))
		h := sha256.New()
		h.Write(seed[:])
		h.Write(counter[:])
		block := h.Sum(nil)
		for j := 0; j < 8 && i+j < e.dimensions; j++ {
			u := binary.LittleEndian.Uint32(block[j*4 : j*4+4])
			vec[i+j] = float32(u)/float32(math.MaxUint32)*2 - 1
		}
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * norm)
		}
	}
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error { return nil }
