package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-server/internal/models"
)

// ============================================================================
// Constructor validation
// ============================================================================

func TestNewSplitter_Validation(t *testing.T) {
	_, err := NewSplitter(0, 10)
	assert.Error(t, err)

	_, err = NewSplitter(100, 0)
	assert.Error(t, err)

	_, err = NewSplitter(100, 100)
	assert.Error(t, err)

	_, err = NewSplitter(100, 150)
	assert.Error(t, err)

	s, err := NewSplitter(100, 20)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Size)
	assert.Equal(t, 20, s.Overlap)
}

// ============================================================================
// Splitting behavior
// ============================================================================

func TestSplit_EmptyInput(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	chunks := s.Split("", "doc1", nil)
	assert.Empty(t, chunks)
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	chunks := s.Split("a short document", "doc1", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 16, chunks[0].EndOffset)
	assert.Equal(t, "doc1_chunk_0000", chunks[0].ID)
}

func TestSplit_HardCutScenario(t *testing.T) {
	// 2500 characters with no separators: three chunks, hard-cut at the
	// size boundary, with the second chunk starting at size-overlap.
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	text := strings.Repeat("a", 2500)
	chunks := s.Split(text, "doc1", nil)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 1000, chunks[0].EndOffset)
	assert.Equal(t, 800, chunks[1].StartOffset)
	assert.Equal(t, 1800, chunks[1].EndOffset)
	assert.Equal(t, 1600, chunks[2].StartOffset)
	assert.Equal(t, 2500, chunks[2].EndOffset)
}

func TestSplit_OverlapRepeatsTrailingContent(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	text := strings.Repeat("b", 1500)
	chunks := s.Split(text, "doc1", nil)

	require.Len(t, chunks, 2)
	tail := chunks[0].Content[len(chunks[0].Content)-200:]
	head := chunks[1].Content[:200]
	assert.Equal(t, tail, head)
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	s, err := NewSplitter(100, 30)
	require.NoError(t, err)

	// Paragraph break inside the backoff window: the first chunk should
	// end just after it instead of cutting mid-sentence.
	text := strings.Repeat("x", 80) + "\n\n" + strings.Repeat("y", 100)
	chunks := s.Split(text, "doc1", nil)

	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 82, chunks[0].EndOffset)
	assert.True(t, strings.HasSuffix(chunks[0].Content, "\n\n"))
}

func TestSplit_BacksOffToSentenceBoundary(t *testing.T) {
	s, err := NewSplitter(100, 40)
	require.NoError(t, err)

	text := strings.Repeat("x", 70) + ". " + strings.Repeat("y", 100)
	chunks := s.Split(text, "doc1", nil)

	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 72, chunks[0].EndOffset)
}

func TestSplit_DeterministicIDs(t *testing.T) {
	s, err := NewSplitter(500, 100)
	require.NoError(t, err)

	text := strings.Repeat("word ", 400)
	first := s.Split(text, "doc1", nil)
	second := s.Split(text, "doc1", nil)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].StartOffset, second[i].StartOffset)
		assert.Equal(t, models.ChunkID("doc1", i), first[i].ID)
	}
}

func TestSplit_MetadataCopiedPerChunk(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	md := map[string]string{"document_name": "notes.txt"}
	chunks := s.Split(strings.Repeat("a", 1500), "doc1", md)

	require.Len(t, chunks, 2)
	chunks[0].Metadata["document_name"] = "mutated"
	assert.Equal(t, "notes.txt", chunks[1].Metadata["document_name"])
}
