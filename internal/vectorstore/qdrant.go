package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"rag-server/internal/models"
)

// QdrantStore backs the Store contract with a Qdrant server over its REST
// API. Qdrant requires the vector size up front, so the dimension is
// declared at construction and the collection is created in Initialize.
//
// Qdrant point ids must be UUIDs or unsigned integers. Chunk ids are
// mapped to deterministic SHA1 UUIDs so re-adding a chunk upserts in place;
// the original chunk id travels in the payload.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	httpClient *http.Client
	logger     *log.Logger
}

var _ Store = (*QdrantStore)(nil)

// QdrantConfig holds connection parameters for a Qdrant server.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewQdrantStore builds a store bound to one collection. No request is
// made until Initialize.
func NewQdrantStore(config QdrantConfig, collection string, dimension int, logger *log.Logger) *QdrantStore {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[QDRANT-STORE] ", log.LstdFlags)
	}
	return &QdrantStore{
		baseURL:    strings.TrimSuffix(config.URL, "/"),
		apiKey:     config.APIKey,
		collection: collection,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

func (s *QdrantStore) Initialize(ctx context.Context) error {
	if s.dimension <= 0 {
		return NewStoreError("initialize", ErrKindInvalid, nil,
			"qdrant requires a positive embedding dimension before collection creation")
	}

	// Creating an existing collection with a different schema fails, so
	// probe for it first.
	err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil, nil)
	if err == nil {
		return nil
	}

	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, payload, nil); err != nil {
		return wrapErr("initialize", err, "creating collection "+s.collection)
	}
	s.logger.Printf("[QDRANT-STORE] Collection %s ready (dimension %d)", s.collection, s.dimension)
	return nil
}

func (s *QdrantStore) AddDocuments(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if err := validateAdd(chunks, embeddings); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]interface{}, len(chunks))
	for i, chunk := range chunks {
		if len(embeddings[i]) != s.dimension {
			return NewStoreError("add_documents", ErrKindInvalid, nil,
				fmt.Sprintf("embedding %d has dimension %d, collection expects %d", i, len(embeddings[i]), s.dimension))
		}
		payload := map[string]interface{}{
			metaChunkID:    chunk.ID,
			metaDocumentID: chunk.DocumentID,
			"content":      chunk.Content,
			"ordinal":      chunk.Ordinal,
		}
		for k, v := range chunk.Metadata {
			payload[k] = v
		}
		points[i] = map[string]interface{}{
			"id":      pointID(chunk.ID),
			"vector":  embeddings[i],
			"payload": payload,
		}
	}

	body := map[string]interface{}{"points": points}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", body, nil); err != nil {
		return wrapErr("add_documents", err, "upserting points")
	}
	s.logger.Printf("[QDRANT-STORE] Upserted %d chunks into %s", len(chunks), s.collection)
	return nil
}

type qdrantScoredPoint struct {
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]string) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, NewStoreError("search", ErrKindInvalid, nil, "limit must be positive")
	}
	if len(queryEmbedding) != s.dimension {
		return nil, NewStoreError("search", ErrKindInvalid, nil,
			fmt.Sprintf("query has dimension %d, collection expects %d", len(queryEmbedding), s.dimension))
	}

	body := map[string]interface{}{
		"vector":       queryEmbedding,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	var resp struct {
		Result []qdrantScoredPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body, &resp); err != nil {
		return nil, wrapErr("search", err, "searching points")
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for i, point := range resp.Result {
		meta := stringMetadata(point.Payload)
		content := meta["content"]
		delete(meta, "content")
		r := models.SearchResult{
			ID:         meta[metaChunkID],
			DocumentID: meta[metaDocumentID],
			Content:    content,
			// Cosine scores from qdrant are similarities in [-1,1].
			Score:      clampScore(point.Score),
			Rank:       i + 1,
			ResultType: models.ResultTypeText,
			Metadata:   meta,
		}
		resultFromMetadata(&r)
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) Delete(ctx context.Context, selector DeleteSelector) (int, error) {
	if err := selector.Validate(); err != nil {
		return 0, err
	}

	var filter map[string]interface{}
	switch {
	case selector.DocumentID != "":
		filter = qdrantFilter(map[string]string{metaDocumentID: selector.DocumentID})
	case len(selector.ChunkIDs) > 0:
		filter = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": metaChunkID, "match": map[string]interface{}{"any": selector.ChunkIDs}},
			},
		}
	default:
		filter = qdrantFilter(selector.Filter)
	}

	// The delete endpoint does not report a count, so count matches first.
	matched, err := s.countWithFilter(ctx, filter)
	if err != nil {
		return 0, wrapErr("delete", err, "counting matching points")
	}
	if matched == 0 {
		return 0, nil
	}

	body := map[string]interface{}{"filter": filter}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body, nil); err != nil {
		return 0, wrapErr("delete", err, "deleting points")
	}
	return matched, nil
}

func (s *QdrantStore) ListDocuments(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	acc := newDocAccumulator()

	var offset interface{}
	for {
		body := map[string]interface{}{
			"limit":        256,
			"with_payload": true,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", body, &resp); err != nil {
			return nil, wrapErr("list_documents", err, "scrolling points")
		}
		for _, point := range resp.Result.Points {
			meta := stringMetadata(point.Payload)
			acc.add(meta[metaDocumentID], meta[metaDocumentName], meta[metaSource])
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	return acc.summaries(limit), nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.do(ctx, http.MethodDelete, "/collections/"+s.collection, nil, nil); err != nil {
		return wrapErr("clear", err, "dropping collection")
	}
	if err := s.Initialize(ctx); err != nil {
		return NewStoreError("clear", ErrKindUnavailable, err, "recreating collection")
	}
	s.logger.Printf("[QDRANT-STORE] Cleared collection %s", s.collection)
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.countWithFilter(ctx, nil)
	if err != nil {
		return 0, wrapErr("count", err, "counting points")
	}
	return n, nil
}

func (s *QdrantStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) countWithFilter(ctx context.Context, filter map[string]interface{}) (int, error) {
	body := map[string]interface{}{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/count", body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// do issues one JSON request against the qdrant REST API.
func (s *QdrantStore) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// qdrantFilter converts an equality filter into a qdrant must clause.
func qdrantFilter(filter map[string]string) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]interface{}{
			"key":   k,
			"match": map[string]interface{}{"value": v},
		})
	}
	return map[string]interface{}{"must": must}
}

// pointID derives a stable UUID from a chunk id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}
