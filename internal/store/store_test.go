package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/studyhall/kioku/internal/embedding"
	"github.com/studyhall/kioku/internal/models"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, snapshotPath string) *Store {
	t.Helper()
	return NewStore(embedding.NewHashEmbedder(32), snapshotPath, zap.NewNop())
}

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		{Text: "the pythagorean theorem relates the sides of a right triangle", SequenceIndex: 0},
		{Text: "a squared plus b squared equals c squared", SequenceIndex: 1},
		{Text: "it applies only to right triangles", SequenceIndex: 2},
	}
}

func TestStore_GetOrCreateIdempotent(t *testing.T) {
	s := newTestStore(t, "")
	a := s.GetOrCreate("tenant1", DefaultCollection)
	b := s.GetOrCreate("tenant1", DefaultCollection)
	if a != b {
		t.Error("GetOrCreate should return the existing collection")
	}
	if s.GetOrCreate("tenant2", DefaultCollection) == a {
		t.Error("tenants must not share collections")
	}
}

func TestStore_AddChunksIdempotent(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	added, err := s.AddChunks(ctx, "t1", "doc1", sampleChunks(), "math.pdf", "math")
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Fatalf("first ingestion added=%d, want 3", added)
	}
	added, err = s.AddChunks(ctx, "t1", "doc1", sampleChunks(), "math.pdf", "math")
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Errorf("second ingestion added=%d, want 0", added)
	}
	if got := s.Stats("t1").TotalChunks; got != 3 {
		t.Errorf("TotalChunks=%d, want 3", got)
	}
}

func TestStore_AddChunksMetadata(t *testing.T) {
	s := newTestStore(t, "")
	_, err := s.AddChunks(context.Background(), "t1", "doc1", sampleChunks()[:1], "notes.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	v := s.GetOrCreate("t1", DefaultCollection).View()
	m := v.Metadatas[0]
	if m[MetaDocumentID] != "doc1" || m[MetaFilename] != "notes.pdf" || m[MetaChunkIndex] != "0" {
		t.Errorf("metadata=%v", m)
	}
	if m[MetaSubject] != "general" {
		t.Errorf("empty subject should default to general, got %q", m[MetaSubject])
	}
	if v.IDs[0] != "doc_doc1_chunk_0" {
		t.Errorf("id=%q", v.IDs[0])
	}
}

func TestStore_DeleteDocument(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	_, _ = s.AddChunks(ctx, "t1", "doc1", sampleChunks(), "a.pdf", "math")
	_, _ = s.AddChunks(ctx, "t1", "doc2", sampleChunks()[:2], "b.pdf", "history")

	before := s.Stats("t1").TotalChunks
	if !s.DeleteDocument("t1", "doc1") {
		t.Fatal("delete should succeed")
	}
	after := s.Stats("t1").TotalChunks
	if before-after != 3 {
		t.Errorf("delete removed %d chunks, want 3", before-after)
	}
	for _, m := range s.GetOrCreate("t1", DefaultCollection).View().Metadatas {
		if m[MetaDocumentID] == "doc1" {
			t.Error("chunk of deleted document still present")
		}
	}
}

func TestStore_DeleteUnknownTenant(t *testing.T) {
	s := newTestStore(t, "")
	// Unknown tenants are created on first access, never rejected.
	if !s.DeleteDocument("nobody", "doc1") {
		t.Error("delete for unknown tenant should succeed as a no-op")
	}
	if got := s.Stats("nobody").TotalChunks; got != 0 {
		t.Errorf("TotalChunks=%d", got)
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.json")
	s := newTestStore(t, path)
	ctx := context.Background()
	_, err := s.AddChunks(ctx, "t1", "doc1", sampleChunks(), "a.pdf", "math")
	if err != nil {
		t.Fatal(err)
	}

	restored := newTestStore(t, path)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatal(err)
	}
	if got := restored.Stats("t1").TotalChunks; got != 3 {
		t.Fatalf("restored TotalChunks=%d, want 3", got)
	}
	v := restored.GetOrCreate("t1", DefaultCollection).View()
	if v.Documents[1] != sampleChunks()[1].Text {
		t.Errorf("restored document text=%q", v.Documents[1])
	}
	if len(v.Embeddings[0]) != 32 {
		t.Errorf("restored embedding dimension=%d", len(v.Embeddings[0]))
	}

	// Re-ingesting into the restored store is still idempotent.
	added, _ := restored.AddChunks(ctx, "t1", "doc1", sampleChunks(), "a.pdf", "math")
	if added != 0 {
		t.Errorf("re-ingestion after restore added=%d, want 0", added)
	}
}

func TestStore_ConcurrentMutationsKeepSnapshotIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.json")
	s := newTestStore(t, path)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc%d", i)
			if _, err := s.AddChunks(ctx, "t1", docID, sampleChunks(), "a.pdf", "math"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// The snapshot on disk must parse and contain every mutation that
	// completed before the final rewrite.
	restored := newTestStore(t, "")
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("snapshot unreadable after concurrent mutations: %v", err)
	}
	if got := restored.Stats("t1").TotalChunks; got != 24 {
		t.Errorf("restored TotalChunks=%d, want 24", got)
	}
}

func TestStore_LoadSnapshotMissingFile(t *testing.T) {
	s := newTestStore(t, "")
	if err := s.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("missing snapshot should not error: %v", err)
	}
}

func TestStore_LoadSnapshotMisaligned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	bad := `{"collections":[{"tenant_id":"t","name":"study_notes","dimensions":1,"ids":["a"],"documents":[],"embeddings":[[1]],"metadatas":[{}]}]}`
	if err := os.WriteFile(path, []byte(bad), 0600); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, "")
	if err := s.LoadSnapshot(path); err == nil {
		t.Error("misaligned snapshot should be rejected")
	}
}
