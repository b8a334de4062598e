package services

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-server/internal/models"
	"rag-server/internal/vectorstore"
)

func newTestImageService(t *testing.T, store *MockStore, captioner *fakeGenerator) *ImageService {
	t.Helper()
	return NewImageService(captioner, &fakeProvider{vector: []float32{1, 0}}, store, nil)
}

func writeTestImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// ============================================================================
// Single image ingestion
// ============================================================================

func TestIngestImage_StoresCaptionChunk(t *testing.T) {
	dir := t.TempDir()
	raw := []byte("fake png bytes")
	path := writeTestImage(t, dir, "diagram.png", raw)

	store := new(MockStore)
	store.On("Delete", mock.Anything, vectorstore.DeleteSelector{DocumentID: DocumentID(path)}).
		Return(0, nil)
	store.On("AddDocuments", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	captioner := &fakeGenerator{answer: "an architecture diagram with three boxes"}
	service := newTestImageService(t, store, captioner)

	result, err := service.IngestImage(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "diagram.png", result.Name)
	assert.Equal(t, path, result.Source)
	assert.Equal(t, 1, result.ChunkCount)

	// The captioner saw the image bytes, not a text rendition.
	encoded := base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, []string{encoded}, captioner.lastImages)

	store.AssertExpectations(t)
	chunks := store.Calls[1].Arguments.Get(1).([]models.Chunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, "an architecture diagram with three boxes", chunks[0].Content)
	assert.Equal(t, models.ChunkID(result.DocumentID, 0), chunks[0].ID)
	assert.Equal(t, "diagram.png", chunks[0].Metadata["document_name"])
	assert.Equal(t, encoded, chunks[0].Metadata["image_data"])
}

func TestIngestImage_ReingestReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "photo.jpg", []byte("jpeg"))

	store := new(MockStore)
	store.On("Delete", mock.Anything, vectorstore.DeleteSelector{DocumentID: DocumentID(path)}).
		Return(1, nil)
	store.On("AddDocuments", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	service := newTestImageService(t, store, &fakeGenerator{answer: "a photo"})

	first, err := service.IngestImage(context.Background(), path)
	require.NoError(t, err)
	second, err := service.IngestImage(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID, "same path maps to same document")
	store.AssertNumberOfCalls(t, "Delete", 2)
}

func TestIngestImage_UnsupportedFormat(t *testing.T) {
	service := newTestImageService(t, new(MockStore), &fakeGenerator{})

	_, err := service.IngestImage(context.Background(), "/data/notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image format")
}

func TestIngestImage_MissingFile(t *testing.T) {
	service := newTestImageService(t, new(MockStore), &fakeGenerator{})

	_, err := service.IngestImage(context.Background(), "/nope/missing.png")
	require.Error(t, err)
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestIngestImage_EmptyCaption(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "blank.png", []byte("png"))

	service := newTestImageService(t, new(MockStore), &fakeGenerator{answer: "   "})

	_, err := service.IngestImage(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty caption")
}

// ============================================================================
// Directory ingestion
// ============================================================================

func TestIngestDirectory_IngestsSupportedImagesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "b.png", []byte("b"))
	writeTestImage(t, dir, "a.jpg", []byte("a"))
	writeTestImage(t, dir, "skip.txt", []byte("not an image"))

	store := new(MockStore)
	store.On("Delete", mock.Anything, mock.Anything).Return(0, nil)
	store.On("AddDocuments", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	captioner := &fakeGenerator{answer: "something"}
	service := newTestImageService(t, store, captioner)

	results, err := service.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "a.jpg", results[0].Name)
	assert.Equal(t, "b.png", results[1].Name)
	assert.Equal(t, 2, captioner.calls)
}

func TestIngestDirectory_NoImages(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "readme.md", []byte("text only"))

	service := newTestImageService(t, new(MockStore), &fakeGenerator{})

	_, err := service.IngestDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported images")
}
