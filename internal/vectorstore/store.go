// Package vectorstore defines the backend-agnostic vector store contract
// and its concrete backends: an embedded sqlite store plus chroma, qdrant,
// and pgvector client/server stores.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rag-server/internal/models"
)

// Store is the single contract every vector store backend satisfies. A
// Store is bound to one named collection at construction; constructing one
// performs no I/O — connections and schema creation happen in Initialize.
type Store interface {
	// Initialize establishes the connection and creates the collection or
	// schema if needed. Fails with a StoreError when the backing service is
	// unreachable or credentials are invalid.
	Initialize(ctx context.Context) error

	// AddDocuments upserts chunks with their embeddings. Requires
	// len(chunks) == len(embeddings); re-adding an existing chunk id
	// overwrites rather than duplicates.
	AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error

	// Search returns at most limit results ordered by descending score.
	// An empty collection or no match above the backend's threshold yields
	// an empty slice, not an error. filter is key->value equality over
	// chunk metadata.
	Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error)

	// Delete removes chunks matching exactly one selector and reports how
	// many were removed.
	Delete(ctx context.Context, selector DeleteSelector) (int, error)

	// ListDocuments summarizes the stored documents. limit <= 0 means all.
	ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error)

	// Clear removes every chunk in the collection.
	Clear(ctx context.Context) error

	// Count returns the number of chunks in the collection.
	Count(ctx context.Context) (int, error)

	// Close releases held connections; safe to call multiple times.
	Close() error
}

// DeleteSelector names what to delete. Exactly one field must be set.
type DeleteSelector struct {
	DocumentID string
	ChunkIDs   []string
	Filter     map[string]string
}

// Validate checks that exactly one selector is supplied.
func (s DeleteSelector) Validate() error {
	set := 0
	if s.DocumentID != "" {
		set++
	}
	if len(s.ChunkIDs) > 0 {
		set++
	}
	if len(s.Filter) > 0 {
		set++
	}
	if set != 1 {
		return NewStoreError("delete", ErrKindInvalid, nil,
			"exactly one of document id, chunk ids, or filter must be supplied")
	}
	return nil
}

// ErrorKind classifies a StoreError so callers can decide whether the
// condition is retryable.
type ErrorKind string

const (
	// ErrKindUnavailable: backing service unreachable or connection lost.
	ErrKindUnavailable ErrorKind = "unavailable"
	// ErrKindInvalid: bad input such as a length mismatch, dimension
	// mismatch, or an empty delete selector.
	ErrKindInvalid ErrorKind = "invalid"
	// ErrKindTimeout: the caller's deadline expired mid-operation.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindUnsupported: unrecognized backend kind at factory time.
	ErrKindUnsupported ErrorKind = "unsupported"
)

// StoreError is the error type for every vector store failure.
type StoreError struct {
	Operation string
	Kind      ErrorKind
	Err       error
	Message   string
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("vector store ")
	b.WriteString(e.Operation)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *StoreError) Timeout() bool {
	return e.Kind == ErrKindTimeout
}

// NewStoreError builds a StoreError.
func NewStoreError(operation string, kind ErrorKind, err error, message string) *StoreError {
	return &StoreError{Operation: operation, Kind: kind, Err: err, Message: message}
}

// wrapErr tags err with operation context, classifying context expiry as a
// timeout so callers can distinguish it from an unreachable backend.
func wrapErr(operation string, err error, message string) *StoreError {
	kind := ErrKindUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = ErrKindTimeout
	}
	return NewStoreError(operation, kind, err, message)
}

// validateAdd enforces the AddDocuments preconditions shared by every
// backend: matching lengths and well-formed chunks.
func validateAdd(chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return NewStoreError("add_documents", ErrKindInvalid, nil,
			fmt.Sprintf("chunk/embedding count mismatch: %d chunks, %d embeddings", len(chunks), len(embeddings)))
	}
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return NewStoreError("add_documents", ErrKindInvalid, err,
				fmt.Sprintf("chunk %d invalid", i))
		}
	}
	return nil
}

// Metadata keys the backends write alongside each chunk so results and
// document listings can be reconstructed without a second lookup.
const (
	metaDocumentID   = "document_id"
	metaDocumentName = "document_name"
	metaSource       = "document_source"
	metaChunkID      = "chunk_id"
)

// docAggregate accumulates per-document chunk counts while listing.
type docAggregate struct {
	summary models.DocumentSummary
	first   int // insertion order for stable output
}

// summarizeDocuments folds (documentID, name, source) triples into ordered
// document summaries, applying limit if positive.
type docAccumulator struct {
	byID  map[string]*docAggregate
	order int
}

func newDocAccumulator() *docAccumulator {
	return &docAccumulator{byID: make(map[string]*docAggregate)}
}

func (a *docAccumulator) add(documentID, name, source string) {
	agg, ok := a.byID[documentID]
	if !ok {
		agg = &docAggregate{
			summary: models.DocumentSummary{ID: documentID, Name: name, Source: source},
			first:   a.order,
		}
		a.order++
		a.byID[documentID] = agg
	}
	agg.summary.ChunkCount++
}

func (a *docAccumulator) summaries(limit int) []models.DocumentSummary {
	aggs := make([]*docAggregate, 0, len(a.byID))
	for _, agg := range a.byID {
		aggs = append(aggs, agg)
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].first < aggs[j].first })

	out := make([]models.DocumentSummary, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, agg.summary)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// resultFromMetadata fills the display fields of a search result from the
// stored chunk metadata.
func resultFromMetadata(r *models.SearchResult) {
	if r.Metadata == nil {
		return
	}
	r.DocumentName = r.Metadata[metaDocumentName]
	r.Source = r.Metadata[metaSource]
}

// clampScore pins a normalized score into [0,1].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
