// Package extract provides text extraction from uploaded document files.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts plain text from document files. The store ingests PDF and
// plain-text formats only.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether the extension (with leading dot) can be extracted.
func (e *Extractor) Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".txt", ".md", "":
		return true
	default:
		return false
	}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are
// rejected.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".txt", ".md", "":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("unsupported file format %q", ext)
	}
}
