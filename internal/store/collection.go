// Package store holds per-tenant collections of embedded chunks and their
// snapshot persistence.
package store

import (
	"errors"
	"fmt"
	"sync"
)

// Metadata keys carried by every stored chunk.
const (
	MetaDocumentID = "document_id"
	MetaFilename   = "filename"
	MetaSubject    = "subject"
	MetaChunkIndex = "chunk_index"
)

// ErrDuplicateID is returned by an append whose id is already present.
var ErrDuplicateID = errors.New("id already present in collection")

// DimensionMismatchError reports a vector whose length does not match the
// collection's established dimensionality. It is fatal to that single add only.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// Collection holds four index-aligned sequences of ids, chunk texts, embedding
// vectors, and metadata for one (tenant, name) pair. All four sequences have
// equal length at all times; ids are unique within a collection. One lock per
// collection serializes mutations against each other and against enumerating
// reads.
type Collection struct {
	tenantID string
	name     string

	mu         sync.RWMutex
	dimensions int // established by the first vector; 0 until then
	ids        []string
	documents  []string
	embeddings [][]float32
	metadatas  []map[string]string
}

func newCollection(tenantID, name string) *Collection {
	return &Collection{tenantID: tenantID, name: name}
}

// TenantID returns the owning tenant.
func (c *Collection) TenantID() string { return c.tenantID }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Len returns the number of stored chunks.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Dimensions returns the established vector dimensionality (0 if empty).
func (c *Collection) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimensions
}

// Has reports whether id is present.
func (c *Collection) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

// indexOf returns the index of id, or -1. Caller holds the lock.
func (c *Collection) indexOf(id string) int {
	for i, existing := range c.ids {
		if existing == id {
			return i
		}
	}
	return -1
}

// append adds one entry to all four sequences. Returns ErrDuplicateID if id is
// already present and *DimensionMismatchError if vec does not match the
// established dimensionality. Either way the sequences stay aligned.
func (c *Collection) append(id, text string, vec []float32, meta map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(id) >= 0 {
		return ErrDuplicateID
	}
	if c.dimensions == 0 {
		c.dimensions = len(vec)
	} else if len(vec) != c.dimensions {
		return &DimensionMismatchError{Got: len(vec), Want: c.dimensions}
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.ids = append(c.ids, id)
	c.documents = append(c.documents, text)
	c.embeddings = append(c.embeddings, stored)
	c.metadatas = append(c.metadatas, meta)
	return nil
}

// removeByDocument removes every entry whose document_id metadata matches.
// Matching indices are removed in descending order so remaining indices stay
// valid. Returns the number removed and false if the parallel sequences were
// found inconsistent.
func (c *Collection) removeByDocument(documentID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.documents) != len(c.ids) || len(c.embeddings) != len(c.ids) || len(c.metadatas) != len(c.ids) {
		return 0, false
	}
	var matches []int
	for i, meta := range c.metadatas {
		if meta[MetaDocumentID] == documentID {
			matches = append(matches, i)
		}
	}
	for i := len(matches) - 1; i >= 0; i-- {
		idx := matches[i]
		c.ids = append(c.ids[:idx], c.ids[idx+1:]...)
		c.documents = append(c.documents[:idx], c.documents[idx+1:]...)
		c.embeddings = append(c.embeddings[:idx], c.embeddings[idx+1:]...)
		c.metadatas = append(c.metadatas[:idx], c.metadatas[idx+1:]...)
	}
	return len(matches), true
}

// View is an index-aligned copy of a collection's sequences taken under the
// read lock. Vectors and metadata maps are shared with the collection and must
// be treated as read-only.
type View struct {
	IDs        []string
	Documents  []string
	Embeddings [][]float32
	Metadatas  []map[string]string
}

// View returns a consistent view for enumeration and ranking.
func (c *Collection) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := View{
		IDs:        make([]string, len(c.ids)),
		Documents:  make([]string, len(c.documents)),
		Embeddings: make([][]float32, len(c.embeddings)),
		Metadatas:  make([]map[string]string, len(c.metadatas)),
	}
	copy(v.IDs, c.ids)
	copy(v.Documents, c.documents)
	copy(v.Embeddings, c.embeddings)
	copy(v.Metadatas, c.metadatas)
	return v
}
