package embedding

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// failingEmbedder always fails, simulating a remote provider outage.
type failingEmbedder struct {
	dimensions int
	calls      int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return nil, &ProviderError{Provider: "test", Err: errors.New("connection refused")}
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, &ProviderError{Provider: "test", Err: errors.New("connection refused")}
}

func (f *failingEmbedder) Dimensions() int { return f.dimensions }
func (f *failingEmbedder) Close() error    { return nil }

func TestFallbackEmbedder_DegradedMode(t *testing.T) {
	primary := &failingEmbedder{dimensions: 1536}
	e := NewFallbackEmbedder(primary, zap.NewNop())

	vec, err := e.Embed(context.Background(), "some study notes")
	if err != nil {
		t.Fatalf("fallback should recover from primary failure: %v", err)
	}
	if len(vec) != 1536 {
		t.Errorf("fallback vector should match primary dimensions, got %d", len(vec))
	}
	if primary.calls != 1 {
		t.Errorf("primary should have been tried once, calls=%d", primary.calls)
	}
}

func TestFallbackEmbedder_FallbackIsDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(&failingEmbedder{dimensions: 64}, zap.NewNop())
	ctx := context.Background()
	a, _ := e.Embed(ctx, "same text")
	b, _ := e.Embed(ctx, "same text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("degraded-mode embeddings should be deterministic")
		}
	}
}

func TestFallbackEmbedder_BatchDegradesPerText(t *testing.T) {
	e := NewFallbackEmbedder(&failingEmbedder{dimensions: 32}, zap.NewNop())
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 32 {
		t.Fatalf("unexpected batch result: %d embeddings", len(vecs))
	}
}

// flakyEmbedder fails its first call, then succeeds with a constant vector.
type flakyEmbedder struct {
	dimensions int
	calls      int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls == 1 {
		return nil, &ProviderError{Provider: "test", Err: errors.New("connection reset")}
	}
	vec := make([]float32, f.dimensions)
	for i := range vec {
		vec[i] = 0.25
	}
	return vec, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *flakyEmbedder) Dimensions() int { return f.dimensions }
func (f *flakyEmbedder) Close() error    { return nil }

func TestFallbackEmbedder_RecoveryBypassesDegradedVectors(t *testing.T) {
	// The cache sits beneath the fallback, so a degraded-mode vector is never
	// cached and a recovered provider serves fresh embeddings.
	primary := &flakyEmbedder{dimensions: 16}
	e := NewFallbackEmbedder(NewCachingEmbedder(primary, 8), zap.NewNop())
	ctx := context.Background()

	degraded, err := e.Embed(ctx, "study notes")
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := e.Embed(ctx, "study notes")
	if err != nil {
		t.Fatal(err)
	}
	if recovered[0] != 0.25 {
		t.Fatalf("recovered embedding should come from the provider, got %v", recovered[:2])
	}
	same := true
	for i := range degraded {
		if degraded[i] != recovered[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("degraded vector should not be served after the provider recovers")
	}
	if primary.calls != 2 {
		t.Errorf("primary calls=%d, want 2", primary.calls)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("rate limited")
	err := &ProviderError{Provider: "text-embedding-3-small", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ProviderError should unwrap to the underlying error")
	}
}
