// Package chunker splits raw document text into overlapping, addressable
// fragments suitable for embedding and retrieval.
package chunker

import (
	"fmt"
	"strings"

	"rag-server/internal/models"
)

// separators, in preference order: paragraph break, sentence terminators,
// line break, whitespace. When a chunk boundary falls mid-text the splitter
// backs off to the nearest preceding separator so chunks avoid cutting
// mid-word where possible.
var separators = []string{"\n\n", ". ", "。", "! ", "? ", "\n", " "}

// Splitter produces chunks of at most Size characters, with consecutive
// chunks repeating the trailing Overlap characters of their predecessor.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter validates the chunking parameters. Overlap must satisfy
// 0 < overlap < size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", size)
	}
	if overlap <= 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: overlap must be between 1 and %d, got %d", size-1, overlap)
	}
	return &Splitter{Size: size, Overlap: overlap}, nil
}

// Split divides text into chunks for the given document. A text shorter
// than the chunk size yields exactly one chunk; empty input yields none.
// Ordinals and character offsets are recorded exactly as produced, and the
// chunk ids are deterministic for (documentID, ordinal) so re-splitting an
// unchanged document is idempotent.
func (s *Splitter) Split(text, documentID string, metadata map[string]string) []models.Chunk {
	if len(text) == 0 {
		return nil
	}

	var chunks []models.Chunk
	start := 0
	for ordinal := 0; ; ordinal++ {
		end := start + s.Size
		if end >= len(text) {
			chunks = append(chunks, s.newChunk(text, documentID, ordinal, start, len(text), metadata))
			break
		}

		// Back off to the best separator within the trailing window.
		// With no separator in range, hard-cut at the size boundary.
		if cut := s.backOff(text, start, end); cut > start {
			end = cut
		}
		chunks = append(chunks, s.newChunk(text, documentID, ordinal, start, end, metadata))

		// Advance so the next chunk repeats the trailing overlap.
		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// backOff looks for the latest occurrence of the most-preferred separator
// within the last Overlap characters before end, returning the cut position
// just after the separator, or 0 when none is found.
func (s *Splitter) backOff(text string, start, end int) int {
	windowStart := end - s.Overlap
	if windowStart < start {
		windowStart = start
	}
	window := text[windowStart:end]
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			return windowStart + idx + len(sep)
		}
	}
	return 0
}

func (s *Splitter) newChunk(text, documentID string, ordinal, start, end int, metadata map[string]string) models.Chunk {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return models.Chunk{
		ID:          models.ChunkID(documentID, ordinal),
		DocumentID:  documentID,
		Content:     text[start:end],
		Ordinal:     ordinal,
		StartOffset: start,
		EndOffset:   end,
		Metadata:    md,
	}
}
