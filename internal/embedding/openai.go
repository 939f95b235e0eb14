package embedding

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/studyhall/kioku/internal/config"
)

// OpenAIEmbedder embeds text via the OpenAI embeddings API. Inputs are
// truncated to a character budget and every call is bounded by a timeout.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	maxChars   int
	timeout    time.Duration
}

// NewOpenAIEmbedder creates a remote embedder from config.
func NewOpenAIEmbedder(apiKey string, cfg *config.EmbeddingConfig) *OpenAIEmbedder {
	dim := 1536 // text-embedding-3-small
	if cfg.Model == "text-embedding-3-large" {
		dim = 3072
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		model:      cfg.Model,
		dimensions: dim,
		maxChars:   cfg.MaxChars,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// Embed returns the embedding for text. Failures (including timeouts) are
// returned as *ProviderError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &ProviderError{Provider: e.model, Err: errors.New("cannot embed empty text")}
	}
	if e.maxChars > 0 {
		if runes := []rune(text); len(runes) > e.maxChars {
			text = string(runes[:e.maxChars])
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, &ProviderError{Provider: e.model, Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: e.model, Err: errors.New("no embedding data returned")}
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i := range raw {
		vec[i] = float32(raw[i])
	}
	return vec, nil
}

// EmbedBatch embeds each text in order, stopping at the first failure.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// Dimensions returns the embedding dimension for the configured model.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op for the remote embedder.
func (e *OpenAIEmbedder) Close() error { return nil }
