package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotError reports a failed snapshot write or read. Snapshot failures are
// recoverable: the store keeps serving from memory.
type SnapshotError struct {
	Op   string
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

type snapshotFile struct {
	Collections []collectionSnapshot `json:"collections"`
}

type collectionSnapshot struct {
	TenantID   string              `json:"tenant_id"`
	Name       string              `json:"name"`
	Dimensions int                 `json:"dimensions"`
	IDs        []string            `json:"ids"`
	Documents  []string            `json:"documents"`
	Embeddings [][]float32         `json:"embeddings"`
	Metadatas  []map[string]string `json:"metadatas"`
}

// SaveSnapshot writes the full state of every collection to path as JSON.
// Saves are serialized, and each writes its own unique temp file before the
// rename, so concurrent mutations cannot interleave into a partial snapshot.
// The parent directory is created if needed.
func (s *Store) SaveSnapshot(path string) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.mu.RLock()
	keys := make([]string, 0, len(s.collections))
	for key := range s.collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := snapshotFile{Collections: make([]collectionSnapshot, 0, len(keys))}
	for _, key := range keys {
		col := s.collections[key]
		v := col.View()
		out.Collections = append(out.Collections, collectionSnapshot{
			TenantID:   col.tenantID,
			Name:       col.name,
			Dimensions: col.Dimensions(),
			IDs:        v.IDs,
			Documents:  v.Documents,
			Embeddings: v.Embeddings,
			Metadatas:  v.Metadatas,
		})
	}
	s.mu.RUnlock()

	data, err := json.Marshal(out)
	if err != nil {
		return &SnapshotError{Op: "encode", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &SnapshotError{Op: "write", Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &SnapshotError{Op: "write", Path: path, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return &SnapshotError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return &SnapshotError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return &SnapshotError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// LoadSnapshot reads the snapshot at path and replaces the in-memory
// collections. A missing file is not an error: the store starts empty.
func (s *Store) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &SnapshotError{Op: "read", Path: path, Err: err}
	}
	var in snapshotFile
	if err := json.Unmarshal(data, &in); err != nil {
		return &SnapshotError{Op: "decode", Path: path, Err: err}
	}
	collections := make(map[string]*Collection, len(in.Collections))
	for _, cs := range in.Collections {
		if len(cs.Documents) != len(cs.IDs) || len(cs.Embeddings) != len(cs.IDs) || len(cs.Metadatas) != len(cs.IDs) {
			return &SnapshotError{Op: "decode", Path: path,
				Err: fmt.Errorf("collection %s/%s has misaligned sequences", cs.TenantID, cs.Name)}
		}
		col := newCollection(cs.TenantID, cs.Name)
		col.dimensions = cs.Dimensions
		col.ids = cs.IDs
		col.documents = cs.Documents
		col.embeddings = cs.Embeddings
		col.metadatas = cs.Metadatas
		collections[collectionKey(cs.TenantID, cs.Name)] = col
	}
	s.mu.Lock()
	s.collections = collections
	s.mu.Unlock()
	return nil
}
