package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/studyhall/kioku/internal/config"
	"github.com/studyhall/kioku/internal/embedding"
	"github.com/studyhall/kioku/internal/models"
	"github.com/studyhall/kioku/internal/store"
	"go.uber.org/zap"
)

// Typed failure kinds. Callers at the user boundary present these as empty
// results after logging; the distinction between "no matches" and "search
// failed" stays visible in logs.
var (
	ErrEmptyQuery = errors.New("query is empty")
	ErrEmbedQuery = errors.New("query embedding failed")
)

// Engine answers nearest-neighbor queries over a tenant's collection.
type Engine struct {
	store    *store.Store
	embedder embedding.Embedder
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// NewEngine creates a search engine. The embedder must be the same provider
// configuration used for ingestion: vectors from different providers are never
// comparable.
func NewEngine(st *store.Store, embedder embedding.Embedder, cfg *config.SearchConfig, logger *zap.Logger) *Engine {
	return &Engine{store: st, embedder: embedder, cfg: cfg, logger: logger}
}

// Search embeds query, ranks the tenant's chunks by cosine similarity, and
// returns at most limit results ordered by descending relevance (ties keep
// insertion order). When subjectFilter is non-empty, only chunks whose subject
// metadata equals it are considered. An empty collection yields an empty
// slice, not an error.
func (e *Engine) Search(ctx context.Context, tenantID, query string, limit int, subjectFilter string) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedQuery, err)
	}

	v := e.store.GetOrCreate(tenantID, store.DefaultCollection).View()
	if len(v.IDs) == 0 {
		return []models.SearchResult{}, nil
	}

	type scored struct {
		index      int
		similarity float64
	}
	candidates := make([]scored, 0, len(v.IDs))
	for i := range v.IDs {
		if subjectFilter != "" && v.Metadatas[i][store.MetaSubject] != subjectFilter {
			continue
		}
		candidates = append(candidates, scored{index: i, similarity: Cosine(queryVec, v.Embeddings[i])})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]models.SearchResult, limit)
	for i := 0; i < limit; i++ {
		c := candidates[i]
		distance := 1 - c.similarity
		results[i] = models.SearchResult{
			Text:           v.Documents[c.index],
			Metadata:       v.Metadatas[c.index],
			Distance:       distance,
			RelevanceScore: 1 - distance,
		}
	}
	e.logger.Debug("search completed",
		zap.String("tenant_id", tenantID),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(results)),
	)
	return results, nil
}
