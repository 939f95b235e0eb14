package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/studyhall/kioku/internal/embedding"
	"github.com/studyhall/kioku/internal/models"
	"go.uber.org/zap"
)

// DefaultCollection is the fixed per-tenant collection name.
const DefaultCollection = "study_notes"

// ChunkID derives the deterministic id for a chunk of a document. Re-ingesting
// the same document produces the same ids, making ingestion idempotent.
func ChunkID(documentID string, sequenceIndex int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, sequenceIndex)
}

// Store owns per-tenant collections of embedded chunks. Unknown tenants and
// collections are created on first access, never rejected. When a snapshot
// path is configured, the full state is rewritten after each mutation.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	// snapMu serializes snapshot writes so concurrent mutations cannot
	// interleave their rewrites of the snapshot file.
	snapMu sync.Mutex

	embedder     embedding.Embedder
	snapshotPath string
	logger       *zap.Logger
}

// NewStore creates a store. snapshotPath may be empty to disable persistence.
func NewStore(embedder embedding.Embedder, snapshotPath string, logger *zap.Logger) *Store {
	return &Store{
		collections:  make(map[string]*Collection),
		embedder:     embedder,
		snapshotPath: snapshotPath,
		logger:       logger,
	}
}

func collectionKey(tenantID, name string) string {
	return tenantID + "/" + name
}

// GetOrCreate returns the tenant's named collection, creating it if absent.
// Creating an already-existing collection returns the existing one unchanged.
func (s *Store) GetOrCreate(tenantID, name string) *Collection {
	key := collectionKey(tenantID, name)
	s.mu.RLock()
	col, ok := s.collections[key]
	s.mu.RUnlock()
	if ok {
		return col
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[key]; ok {
		return col
	}
	col = newCollection(tenantID, name)
	s.collections[key] = col
	return col
}

// AddChunks embeds and stores a document's chunks in the tenant's default
// collection. Chunk ids already present are skipped (idempotent re-ingestion)
// and excluded from the returned count. Embedding happens outside any
// collection lock; each chunk is appended atomically, and a vector that does
// not match the collection's dimensionality is rejected for that chunk only.
func (s *Store) AddChunks(ctx context.Context, tenantID, documentID string, chunks []models.Chunk, filename, subject string) (int, error) {
	if subject == "" {
		subject = "general"
	}
	col := s.GetOrCreate(tenantID, DefaultCollection)

	var pending []models.Chunk
	for _, ch := range chunks {
		if !col.Has(ChunkID(documentID, ch.SequenceIndex)) {
			pending = append(pending, ch)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, ch := range pending {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	added := 0
	var dimErr *DimensionMismatchError
	for i, ch := range pending {
		id := ChunkID(documentID, ch.SequenceIndex)
		meta := map[string]string{
			MetaDocumentID: documentID,
			MetaFilename:   filename,
			MetaSubject:    subject,
			MetaChunkIndex: strconv.Itoa(ch.SequenceIndex),
		}
		switch err := col.append(id, ch.Text, vectors[i], meta); {
		case err == nil:
			added++
		case errors.Is(err, ErrDuplicateID):
			// Raced with a concurrent ingestion of the same document.
		case errors.As(err, &dimErr):
			s.logger.Warn("rejecting chunk with mismatched vector dimension",
				zap.String("tenant_id", tenantID),
				zap.String("chunk_id", id),
				zap.Int("got", dimErr.Got),
				zap.Int("want", dimErr.Want),
			)
		default:
			return added, err
		}
	}
	if added > 0 {
		s.persist()
	}
	return added, nil
}

// DeleteDocument removes every chunk of the document from the tenant's default
// collection. Returns false only when an internal inconsistency is detected;
// the condition is logged, not propagated.
func (s *Store) DeleteDocument(tenantID, documentID string) bool {
	col := s.GetOrCreate(tenantID, DefaultCollection)
	removed, ok := col.removeByDocument(documentID)
	if !ok {
		s.logger.Error("collection state inconsistent, delete aborted",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", documentID),
		)
		return false
	}
	if removed > 0 {
		s.persist()
	}
	return true
}

// Stats returns statistics for the tenant's default collection.
func (s *Store) Stats(tenantID string) models.CollectionStats {
	col := s.GetOrCreate(tenantID, DefaultCollection)
	return models.CollectionStats{TotalChunks: col.Len()}
}

// persist rewrites the snapshot file. Failures are logged and the in-memory
// state stands; a later successful save reconciles.
func (s *Store) persist() {
	if s.snapshotPath == "" {
		return
	}
	if err := s.SaveSnapshot(s.snapshotPath); err != nil {
		s.logger.Warn("snapshot save failed, continuing in memory", zap.Error(err))
	}
}
