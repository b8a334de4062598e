package vectorstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"rag-server/internal/db"
	"rag-server/internal/models"
)

// ChromaStore backs the Store contract with a ChromaDB server. Collection
// creation on first use is handled by the server, and distances come back
// in the collection's cosine space.
type ChromaStore struct {
	client     *db.ChromaClient
	collection string
	logger     *log.Logger
}

var _ Store = (*ChromaStore)(nil)

// NewChromaStore builds a store bound to one collection. No request is made
// until Initialize.
func NewChromaStore(config db.ChromaConfig, collection string, logger *log.Logger) *ChromaStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[CHROMA-STORE] ", log.LstdFlags)
	}
	return &ChromaStore{
		client:     db.NewChromaClient(config),
		collection: collection,
		logger:     logger,
	}
}

func (s *ChromaStore) Initialize(ctx context.Context) error {
	if err := s.client.Heartbeat(ctx); err != nil {
		return wrapErr("initialize", err, "chromadb unreachable")
	}
	if _, err := s.client.GetOrCreateCollection(ctx, s.collection); err != nil {
		return wrapErr("initialize", err, "ensuring collection "+s.collection)
	}
	s.logger.Printf("[CHROMA-STORE] Collection %s ready", s.collection)
	return nil
}

func (s *ChromaStore) AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if err := validateAdd(chunks, embeddings); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]interface{}, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		documents[i] = chunk.Content
		meta := map[string]interface{}{
			metaDocumentID: chunk.DocumentID,
			"ordinal":      chunk.Ordinal,
		}
		for k, v := range chunk.Metadata {
			meta[k] = v
		}
		metadatas[i] = meta
	}

	if err := s.client.Upsert(ctx, s.collection, ids, documents, embeddings, metadatas); err != nil {
		return wrapErr("add_documents", err, "upserting chunks")
	}
	s.logger.Printf("[CHROMA-STORE] Upserted %d chunks into %s", len(chunks), s.collection)
	return nil
}

func (s *ChromaStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, NewStoreError("search", ErrKindInvalid, nil, "limit must be positive")
	}

	resp, err := s.client.Query(ctx, s.collection, queryEmbedding, limit, chromaWhere(filter))
	if err != nil {
		return nil, wrapErr("search", err, "querying collection")
	}
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return []models.SearchResult{}, nil
	}

	results := make([]models.SearchResult, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		meta := stringMetadata(resp.Metadatas[0][i])
		// ChromaDB returns distances, not similarities. Map distance d
		// into (0,1] so higher is always better across backends.
		distance := float64(resp.Distances[0][i])
		r := models.SearchResult{
			ID:         id,
			DocumentID: meta[metaDocumentID],
			Content:    resp.Documents[0][i],
			Score:      clampScore(1.0 / (1.0 + distance)),
			Rank:       i + 1,
			ResultType: models.ResultTypeText,
			Metadata:   meta,
		}
		resultFromMetadata(&r)
		results = append(results, r)
	}
	return results, nil
}

func (s *ChromaStore) Delete(ctx context.Context, selector DeleteSelector) (int, error) {
	if err := selector.Validate(); err != nil {
		return 0, err
	}

	if len(selector.ChunkIDs) > 0 {
		if err := s.client.Delete(ctx, s.collection, selector.ChunkIDs, nil); err != nil {
			return 0, wrapErr("delete", err, "deleting by chunk ids")
		}
		// ChromaDB's delete endpoint does not report a count; unknown ids
		// are ignored server side, so the requested count is the best answer.
		return len(selector.ChunkIDs), nil
	}

	where := chromaWhere(selector.Filter)
	if selector.DocumentID != "" {
		where = map[string]interface{}{metaDocumentID: selector.DocumentID}
	}

	// Count the matches first so the caller learns what was removed.
	existing, err := s.client.Get(ctx, s.collection, where, 0)
	if err != nil {
		return 0, wrapErr("delete", err, "listing matching chunks")
	}
	if len(existing.IDs) == 0 {
		return 0, nil
	}
	if err := s.client.Delete(ctx, s.collection, nil, where); err != nil {
		return 0, wrapErr("delete", err, "deleting matching chunks")
	}
	return len(existing.IDs), nil
}

func (s *ChromaStore) ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	resp, err := s.client.Get(ctx, s.collection, nil, 0)
	if err != nil {
		return nil, wrapErr("list_documents", err, "listing chunks")
	}

	acc := newDocAccumulator()
	for i := range resp.IDs {
		meta := stringMetadata(resp.Metadatas[i])
		acc.add(meta[metaDocumentID], meta[metaDocumentName], meta[metaSource])
	}
	return acc.summaries(limit), nil
}

func (s *ChromaStore) Clear(ctx context.Context) error {
	// ChromaDB cannot delete with an empty where clause; dropping and
	// recreating the collection is the supported way to empty it.
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return wrapErr("clear", err, "dropping collection")
	}
	if _, err := s.client.GetOrCreateCollection(ctx, s.collection); err != nil {
		return wrapErr("clear", err, "recreating collection")
	}
	s.logger.Printf("[CHROMA-STORE] Cleared collection %s", s.collection)
	return nil
}

func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, s.collection)
	if err != nil {
		return 0, wrapErr("count", err, "counting chunks")
	}
	return n, nil
}

func (s *ChromaStore) Close() error {
	s.client.Close()
	return nil
}

// chromaWhere converts an equality filter into a ChromaDB where clause.
func chromaWhere(filter map[string]string) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	if len(filter) == 1 {
		for k, v := range filter {
			return map[string]interface{}{k: v}
		}
	}
	clauses := make([]map[string]interface{}, 0, len(filter))
	for k, v := range filter {
		clauses = append(clauses, map[string]interface{}{k: v})
	}
	return map[string]interface{}{"$and": clauses}
}

// stringMetadata flattens a ChromaDB metadata record into string values.
func stringMetadata(meta map[string]interface{}) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
