package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/studyhall/kioku/internal/models"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_CreateGet(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	rec := &models.DocumentRecord{
		ID:         "doc1",
		TenantID:   "t1",
		Filename:   "calculus.pdf",
		FilePath:   "/data/uploads/t1/ab12cd34_calculus.pdf",
		Subject:    "math",
		ChunkCount: 7,
	}
	if err := r.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(ctx, "t1", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Filename != "calculus.pdf" || got.Subject != "math" || got.ChunkCount != 7 {
		t.Errorf("got %+v", got)
	}
	if got.UploadedAt.IsZero() {
		t.Error("uploaded_at should be set")
	}
}

func TestRegistry_GetWrongTenant(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	_ = r.Create(ctx, &models.DocumentRecord{ID: "doc1", TenantID: "t1", Filename: "a.txt"})
	if _, err := r.Get(ctx, "t2", "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant lookup should be ErrNotFound, got %v", err)
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := openTestRegistry(t)
	if _, err := r.Get(context.Background(), "t1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing document should be ErrNotFound, got %v", err)
	}
	if _, err := r.GetByPath(context.Background(), "t1", "/nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path should be ErrNotFound, got %v", err)
	}
}

func TestRegistry_GetByPath(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	_ = r.Create(ctx, &models.DocumentRecord{ID: "doc1", TenantID: "t1", Filename: "a.txt", FilePath: "/study/a.txt"})
	got, err := r.GetByPath(ctx, "t1", "/study/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "doc1" {
		t.Errorf("got %+v", got)
	}
}

func TestRegistry_ListAndCount(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	_ = r.Create(ctx, &models.DocumentRecord{ID: "a", TenantID: "t1", Filename: "a.txt"})
	_ = r.Create(ctx, &models.DocumentRecord{ID: "b", TenantID: "t1", Filename: "b.txt"})
	_ = r.Create(ctx, &models.DocumentRecord{ID: "c", TenantID: "t2", Filename: "c.txt"})

	recs, err := r.ListByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("len=%d", len(recs))
	}
	n, err := r.CountByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count=%d", n)
	}
}

func TestRegistry_Delete(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	_ = r.Create(ctx, &models.DocumentRecord{ID: "a", TenantID: "t1", Filename: "a.txt"})
	if err := r.Delete(ctx, "t1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "t1", "a"); err == nil {
		t.Error("deleted record still readable")
	}
}
