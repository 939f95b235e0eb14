package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/studyhall/kioku/internal/config"
	"github.com/studyhall/kioku/internal/models"
	"github.com/studyhall/kioku/internal/store"
	"go.uber.org/zap"
)

// fixedEmbedder returns predefined vectors so ranking is controlled by the test.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return 2 }
func (f *fixedEmbedder) Close() error    { return nil }

func testConfig() *config.SearchConfig {
	return &config.SearchConfig{DefaultLimit: 5, MaxLimit: 50}
}

func newTestEngine(vectors map[string][]float32) (*Engine, *store.Store) {
	emb := &fixedEmbedder{vectors: vectors}
	st := store.NewStore(emb, "", zap.NewNop())
	return NewEngine(st, emb, testConfig(), zap.NewNop()), st
}

func chunk(text string, seq int) models.Chunk {
	return models.Chunk{Text: text, SequenceIndex: seq}
}

func TestSearch_EmptyCollection(t *testing.T) {
	engine, _ := newTestEngine(map[string][]float32{"anything": {1, 0}})
	results, err := engine.Search(context.Background(), "tenant", "anything", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestSearch_RankingAndLimit(t *testing.T) {
	vectors := map[string][]float32{
		"query": {1, 0},
		"close": {0.9, 0.1},
		"mid":   {0.5, 0.5},
		"far":   {0, 1},
	}
	engine, st := newTestEngine(vectors)
	ctx := context.Background()
	_, err := st.AddChunks(ctx, "t1", "doc1",
		[]models.Chunk{chunk("far", 0), chunk("close", 1), chunk("mid", 2)}, "a.txt", "math")
	if err != nil {
		t.Fatal(err)
	}

	results, err := engine.Search(ctx, "t1", "query", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "close" || results[1].Text != "mid" {
		t.Errorf("order=%q, %q", results[0].Text, results[1].Text)
	}
	if results[0].RelevanceScore < results[1].RelevanceScore {
		t.Error("results not ordered by descending relevance")
	}
	for _, r := range results {
		if r.RelevanceScore != 1-r.Distance {
			t.Errorf("relevance %v != 1 - distance %v", r.RelevanceScore, r.Distance)
		}
	}
}

func TestSearch_SubjectFilter(t *testing.T) {
	vectors := map[string][]float32{
		"query":          {1, 0},
		"algebra chunk":  {0.8, 0.2},
		"napoleon chunk": {0.95, 0.05},
		"geometry chunk": {0.7, 0.3},
	}
	engine, st := newTestEngine(vectors)
	ctx := context.Background()
	_, _ = st.AddChunks(ctx, "t1", "mathdoc",
		[]models.Chunk{chunk("algebra chunk", 0), chunk("geometry chunk", 1)}, "m.pdf", "math")
	_, _ = st.AddChunks(ctx, "t1", "histdoc",
		[]models.Chunk{chunk("napoleon chunk", 0)}, "h.pdf", "history")

	results, err := engine.Search(ctx, "t1", "query", 5, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 math results, got %d", len(results))
	}
	for _, r := range results {
		if r.Metadata[store.MetaSubject] != "math" {
			t.Errorf("subject filter leaked: %v", r.Metadata)
		}
	}
}

func TestSearch_TenantIsolation(t *testing.T) {
	vectors := map[string][]float32{"query": {1, 0}, "secret": {1, 0}}
	engine, st := newTestEngine(vectors)
	ctx := context.Background()
	_, _ = st.AddChunks(ctx, "alice", "doc1", []models.Chunk{chunk("secret", 0)}, "a.txt", "")

	results, err := engine.Search(ctx, "bob", "query", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Error("one tenant's chunks must not be visible to another")
	}
}

func TestSearch_EmbedFailure(t *testing.T) {
	engine, st := newTestEngine(map[string][]float32{"stored": {1, 0}})
	ctx := context.Background()
	_, _ = st.AddChunks(ctx, "t1", "doc1", []models.Chunk{chunk("stored", 0)}, "a.txt", "")

	_, err := engine.Search(ctx, "t1", "unknown text", 5, "")
	if !errors.Is(err, ErrEmbedQuery) {
		t.Errorf("expected ErrEmbedQuery, got %v", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	engine, _ := newTestEngine(nil)
	_, err := engine.Search(context.Background(), "t1", "   ", 5, "")
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}
