// Package chunker splits document text into overlapping, boundary-aware windows.
package chunker

import (
	"fmt"
	"strings"

	"github.com/studyhall/kioku/internal/models"
)

// separators are tried in priority order when looking for a window boundary:
// sentence end, sentence end at a line break, paragraph break.
var separators = []string{". ", ".\n", "\n\n"}

// Chunker splits text into overlapping character windows, preferring to end a
// window at a sentence or paragraph boundary.
type Chunker struct {
	targetSize int
	overlap    int
}

// NewChunker creates a chunker with the given window size and overlap, both in
// characters (runes). Requires targetSize > 0 and 0 <= overlap < targetSize.
func NewChunker(targetSize, overlap int) (*Chunker, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("target size must be positive, got %d", targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, fmt.Errorf("overlap must be in [0, target size), got %d", overlap)
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}, nil
}

// Split splits text into chunks. Windows end at the last sentence or paragraph
// separator found within them when one exists, otherwise at the naive cut point.
// Consecutive windows overlap; the final window may be shorter than the target
// size. Windows that are empty after trimming are skipped and do not consume a
// sequence index. Offsets are rune offsets of the untrimmed window.
func (c *Chunker) Split(text string) []models.Chunk {
	runes := []rune(text)
	n := len(runes)
	var chunks []models.Chunk
	start := 0
	for start < n {
		end := start + c.targetSize
		if end >= n {
			end = n
		} else if cut, ok := boundaryCut(runes[start:end]); ok {
			end = start + cut
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			chunks = append(chunks, models.Chunk{
				Text:          segment,
				StartOffset:   start,
				EndOffset:     end,
				SequenceIndex: len(chunks),
			})
		}
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			// A boundary very close to the window start would otherwise stall the scan.
			next = end
		}
		start = next
	}
	return chunks
}

// boundaryCut returns the rune offset just past the last separator occurring in
// window, trying separator kinds in priority order and taking the first kind
// that occurs at all.
func boundaryCut(window []rune) (int, bool) {
	s := string(window)
	for _, sep := range separators {
		if i := strings.LastIndex(s, sep); i >= 0 {
			return len([]rune(s[:i])) + len([]rune(sep)), true
		}
	}
	return 0, false
}
