package models

import (
	"fmt"
	"time"
)

// ResultType distinguishes text from image matches when independently
// ranked result sets are fused.
type ResultType string

const (
	ResultTypeText  ResultType = "text"
	ResultTypeImage ResultType = "image"
)

// Document represents a source document before chunking.
type Document struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Content   string            `json:"content"`
	DocType   string            `json:"doc_type"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Chunk is a contiguous span of a source document, the atomic unit stored
// and retrieved. Chunks are immutable after creation; a chunk's ID is
// deterministic for a given (document, ordinal) pair so re-ingesting an
// unchanged document produces identical ids.
type Chunk struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	Content     string            `json:"content"`
	Ordinal     int               `json:"ordinal"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChunkID derives the stable chunk identifier for a document and ordinal.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%04d", documentID, ordinal)
}

// Validate checks the chunk's required fields.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "chunk ID is required"}
	}
	if c.DocumentID == "" {
		return &ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if c.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if c.Ordinal < 0 {
		return &ValidationError{Field: "ordinal", Message: "ordinal cannot be negative"}
	}
	return nil
}

// SearchResult is a ranked match from a vector store search. Score is
// normalized to [0,1] with 1 a perfect match; Rank is the 1-based position
// within its result set. Within one result set, Score never increases as
// Rank increases.
type SearchResult struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"document_id"`
	Content      string            `json:"content"`
	Score        float64           `json:"score"`
	Rank         int               `json:"rank"`
	ResultType   ResultType        `json:"result_type"`
	DocumentName string            `json:"document_name,omitempty"`
	Source       string            `json:"source,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DocumentSummary describes one stored document for listing purposes.
type DocumentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	ChunkCount int    `json:"chunk_count"`
}

// ValidationError reports an invalid model field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}
