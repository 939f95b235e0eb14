// Package models defines core data structures for chunks, documents, and search results.
package models

import "time"

// Chunk is a contiguous, possibly overlapping window of a document's text.
// Offsets are rune offsets of the untrimmed window within the source text.
type Chunk struct {
	Text          string `json:"text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	SequenceIndex int    `json:"sequence_index"`
}

// DocumentRecord is the relational record for an uploaded document.
type DocumentRecord struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"file_path,omitempty"`
	Subject    string    `json:"subject"`
	ChunkCount int       `json:"chunk_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SearchResult is a single ranked hit. The cosine convention is used throughout:
// Distance = 1 - cosine similarity, RelevanceScore = 1 - Distance.
type SearchResult struct {
	Text           string            `json:"text"`
	Metadata       map[string]string `json:"metadata"`
	Distance       float64           `json:"distance"`
	RelevanceScore float64           `json:"relevance_score"`
}

// CollectionStats summarizes a tenant's collection.
type CollectionStats struct {
	TotalChunks int `json:"total_chunks"`
}
