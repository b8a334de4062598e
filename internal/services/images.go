package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rag-server/internal/embeddings"
	"rag-server/internal/models"
	"rag-server/internal/vectorstore"
)

// image formats accepted for ingestion.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// captionPrompt drives the vision model toward a description dense enough
// to embed: the caption text is what gets vectorized, so image search is
// only as good as the caption.
const captionPrompt = "Describe this image in detail: what is shown " +
	"(objects, people, places), notable colors, shapes and textures, the " +
	"overall context or mood, and any visible text. Be concise and specific."

// ImageService ingests images into the image collection. An image is
// stored as a caption chunk: a vision model describes the image, the
// caption is embedded with the text embedding model, and the original
// bytes travel along as base64 metadata for multimodal generation.
type ImageService struct {
	captioner Generator
	provider  embeddings.Provider
	store     vectorstore.Store
	logger    *log.Logger
}

// NewImageService wires an image ingestion pipeline. captioner must speak
// a vision-capable model; provider is the same text embedder the rest of
// the system uses, so image and text vectors share one space.
func NewImageService(captioner Generator, provider embeddings.Provider,
	store vectorstore.Store, logger *log.Logger) *ImageService {
	if logger == nil {
		logger = log.New(os.Stdout, "[IMAGES] ", log.LstdFlags)
	}
	return &ImageService{
		captioner: captioner,
		provider:  provider,
		store:     store,
		logger:    logger,
	}
}

// IngestImage ingests one image file. The document id derives from the
// path, so re-ingesting the same file replaces its previous entry.
func (s *ImageService) IngestImage(ctx context.Context, path string) (*IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !imageExtensions[ext] {
		return nil, NewEngineError("ingest_image", nil,
			fmt.Sprintf("unsupported image format %q (supported: .jpg, .jpeg, .png, .gif, .bmp, .webp)", ext))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("ingest_image", err, "reading "+path)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	caption, err := s.captioner.Generate(ctx, captionPrompt, []string{encoded})
	if err != nil {
		return nil, NewEngineError("ingest_image", err, "captioning "+path)
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil, NewEngineError("ingest_image", nil, "vision model returned an empty caption for "+path)
	}

	vector, err := s.provider.EmbedQuery(ctx, caption)
	if err != nil {
		return nil, NewEngineError("ingest_image", err, "embedding caption for "+path)
	}

	name := filepath.Base(path)
	documentID := DocumentID(path)
	chunk := models.Chunk{
		ID:          models.ChunkID(documentID, 0),
		DocumentID:  documentID,
		Content:     caption,
		Ordinal:     0,
		StartOffset: 0,
		EndOffset:   len(caption),
		Metadata: map[string]string{
			"document_name":   name,
			"document_source": path,
			"image_data":      encoded,
		},
	}

	if _, err := s.store.Delete(ctx, vectorstore.DeleteSelector{DocumentID: documentID}); err != nil {
		return nil, NewEngineError("ingest_image", err, "removing previous version of "+path)
	}
	if err := s.store.AddDocuments(ctx, []models.Chunk{chunk}, [][]float32{vector}); err != nil {
		return nil, NewEngineError("ingest_image", err, "storing "+path)
	}

	s.logger.Printf("[IMAGES] Ingested %s (%s), caption %d chars", name, documentID, len(caption))
	return &IngestResult{
		DocumentID: documentID,
		Name:       name,
		Source:     path,
		ChunkCount: 1,
	}, nil
}

// IngestDirectory ingests every supported image directly under dir, in
// name order. The first failure aborts the batch; images already ingested
// stay ingested.
func (s *ImageService) IngestDirectory(ctx context.Context, dir string) ([]*IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewEngineError("ingest_images", err, "reading directory "+dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, NewEngineError("ingest_images", nil, "no supported images in "+dir)
	}

	results := make([]*IngestResult, 0, len(paths))
	for _, path := range paths {
		res, err := s.IngestImage(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	s.logger.Printf("[IMAGES] Ingested %d images from %s", len(results), dir)
	return results, nil
}
