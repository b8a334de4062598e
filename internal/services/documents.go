package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"rag-server/internal/chunker"
	"rag-server/internal/embeddings"
	"rag-server/internal/models"
	"rag-server/internal/vectorstore"
)

// supported plain-text sources; anything else needs conversion upstream.
var ingestableExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	ChunkCount int    `json:"chunk_count"`
}

// DocumentService ingests documents: split into chunks, embed, upsert into
// the vector store, and feed the keyword index when one is attached.
type DocumentService struct {
	splitter *chunker.Splitter
	provider embeddings.Provider
	store    vectorstore.Store
	keywords *KeywordIndex // nil disables keyword indexing
	logger   *log.Logger
}

// NewDocumentService wires an ingestion pipeline over one store.
func NewDocumentService(splitter *chunker.Splitter, provider embeddings.Provider,
	store vectorstore.Store, keywords *KeywordIndex, logger *log.Logger) *DocumentService {
	if logger == nil {
		logger = log.New(os.Stdout, "[DOCUMENTS] ", log.LstdFlags)
	}
	return &DocumentService{
		splitter: splitter,
		provider: provider,
		store:    store,
		keywords: keywords,
		logger:   logger,
	}
}

// IngestFile reads a text file and ingests it under its base name. The
// document id derives from the path, so re-ingesting the same file
// overwrites its previous chunks instead of duplicating them.
func (s *DocumentService) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !ingestableExtensions[ext] {
		return nil, NewEngineError("ingest", nil,
			fmt.Sprintf("unsupported file type %q (supported: .txt, .md)", ext))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("ingest", err, "reading "+path)
	}
	return s.IngestText(ctx, filepath.Base(path), path, string(content))
}

// IngestText ingests raw content. source identifies where the content came
// from and pins the document id; an empty source gets a random id.
func (s *DocumentService) IngestText(ctx context.Context, name, source, content string) (*IngestResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewEngineError("ingest", nil, "content must not be empty")
	}

	documentID := DocumentID(source)
	metadata := map[string]string{
		"document_name":   name,
		"document_source": source,
	}

	chunks := s.splitter.Split(content, documentID, metadata)
	if len(chunks) == 0 {
		return nil, NewEngineError("ingest", nil, "content produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := s.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, NewEngineError("ingest", err, "embedding chunks")
	}

	// Drop stale chunks first so a shrinking re-ingest leaves no orphans.
	if _, err := s.store.Delete(ctx, vectorstore.DeleteSelector{DocumentID: documentID}); err != nil {
		return nil, NewEngineError("ingest", err, "removing previous version")
	}
	if err := s.store.AddDocuments(ctx, chunks, vectors); err != nil {
		return nil, NewEngineError("ingest", err, "storing chunks")
	}

	if s.keywords != nil {
		s.keywords.Remove(documentID)
		if err := s.keywords.Index(chunks); err != nil {
			// Keyword search is auxiliary; vector ingestion already
			// succeeded, so log and carry on.
			s.logger.Printf("[DOCUMENTS] WARNING: keyword indexing failed for %s: %v", documentID, err)
		}
	}

	s.logger.Printf("[DOCUMENTS] Ingested %s (%s) as %d chunks", name, documentID, len(chunks))
	return &IngestResult{
		DocumentID: documentID,
		Name:       name,
		Source:     source,
		ChunkCount: len(chunks),
	}, nil
}

// Delete removes a document's chunks from the store and keyword index,
// reporting how many chunks the store dropped.
func (s *DocumentService) Delete(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, NewEngineError("delete", nil, "document id must not be empty")
	}
	deleted, err := s.store.Delete(ctx, vectorstore.DeleteSelector{DocumentID: documentID})
	if err != nil {
		return 0, NewEngineError("delete", err, "deleting document "+documentID)
	}
	if s.keywords != nil {
		s.keywords.Remove(documentID)
	}
	s.logger.Printf("[DOCUMENTS] Deleted document %s (%d chunks)", documentID, deleted)
	return deleted, nil
}

// List summarizes stored documents.
func (s *DocumentService) List(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx, limit)
	if err != nil {
		return nil, NewEngineError("list", err, "listing documents")
	}
	return docs, nil
}

// Count returns the number of stored chunks.
func (s *DocumentService) Count(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, NewEngineError("count", err, "counting chunks")
	}
	return n, nil
}

// Clear drops every chunk and resets the keyword index.
func (s *DocumentService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return NewEngineError("clear", err, "clearing store")
	}
	if s.keywords != nil {
		s.keywords.Clear()
	}
	return nil
}

// DocumentID derives a stable id from a source location so the same source
// always maps to the same document. Sourceless content gets a random id.
func DocumentID(source string) string {
	if source == "" {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}
