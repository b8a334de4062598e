package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ChromaClient wraps HTTP calls to the ChromaDB v2 API.
// The official Go client (v0.3.0-alpha.1) still has v1/v2 compatibility
// issues, so the server is addressed directly over its REST API.
type ChromaClient struct {
	baseURL    string
	rootURL    string
	httpClient *http.Client

	mu            sync.Mutex
	collectionIDs map[string]string // name -> collection id
}

// ChromaConfig holds connection parameters for a ChromaDB server.
type ChromaConfig struct {
	Host     string
	Port     int
	Tenant   string // default: "default_tenant"
	Database string // default: "default_database"
	Timeout  time.Duration
}

// ChromaCollection is a ChromaDB collection descriptor.
type ChromaCollection struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ChromaGetResponse is the response of a collection get request.
type ChromaGetResponse struct {
	IDs       []string                 `json:"ids"`
	Documents []string                 `json:"documents"`
	Metadatas []map[string]interface{} `json:"metadatas"`
}

// ChromaQueryResponse is the response of a similarity query. The outer
// slices have one entry per query embedding.
type ChromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float32                `json:"distances"`
}

// NewChromaClient creates a client for the given server. The v2 API scopes
// all collection routes under a tenant and database.
func NewChromaClient(config ChromaConfig) *ChromaClient {
	if config.Tenant == "" {
		config.Tenant = "default_tenant"
	}
	if config.Database == "" {
		config.Database = "default_database"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	rootURL := fmt.Sprintf("http://%s:%d", config.Host, config.Port)
	return &ChromaClient{
		baseURL: fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s",
			rootURL, config.Tenant, config.Database),
		rootURL:       rootURL,
		httpClient:    &http.Client{Timeout: config.Timeout},
		collectionIDs: make(map[string]string),
	}
}

// Heartbeat checks that the ChromaDB server is alive.
func (c *ChromaClient) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.rootURL+"/api/v2/heartbeat", nil, nil)
}

// GetOrCreateCollection returns the named collection, creating it with
// cosine HNSW space when it does not exist.
func (c *ChromaClient) GetOrCreateCollection(ctx context.Context, name string) (*ChromaCollection, error) {
	payload := map[string]interface{}{
		"name":          name,
		"metadata":      map[string]interface{}{"hnsw:space": "cosine"},
		"get_or_create": true,
	}
	var collection ChromaCollection
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/collections", payload, &collection); err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	c.mu.Lock()
	c.collectionIDs[name] = collection.ID
	c.mu.Unlock()
	return &collection, nil
}

// DeleteCollection removes a collection and forgets its cached id.
func (c *ChromaClient) DeleteCollection(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/collections/"+name, nil, nil); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	c.mu.Lock()
	delete(c.collectionIDs, name)
	c.mu.Unlock()
	return nil
}

// Count returns the number of records in a collection.
func (c *ChromaClient) Count(ctx context.Context, name string) (int, error) {
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return 0, err
	}
	var count int
	url := fmt.Sprintf("%s/collections/%s/count", c.baseURL, id)
	if err := c.do(ctx, http.MethodGet, url, nil, &count); err != nil {
		return 0, fmt.Errorf("count collection %q: %w", name, err)
	}
	return count, nil
}

// Upsert writes records into a collection, overwriting any existing ids.
func (c *ChromaClient) Upsert(ctx context.Context, name string, ids []string, documents []string, embeddings [][]float32, metadatas []map[string]interface{}) error {
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"ids":        ids,
		"documents":  documents,
		"embeddings": embeddings,
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}
	url := fmt.Sprintf("%s/collections/%s/upsert", c.baseURL, id)
	if err := c.do(ctx, http.MethodPost, url, payload, nil); err != nil {
		return fmt.Errorf("upsert %d records into %q: %w", len(ids), name, err)
	}
	return nil
}

// Query runs a similarity search for one query embedding and returns ids,
// documents, metadatas, and distances.
func (c *ChromaClient) Query(ctx context.Context, name string, queryEmbedding []float32, nResults int, where map[string]interface{}) (*ChromaQueryResponse, error) {
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"query_embeddings": [][]float32{queryEmbedding},
		"n_results":        nResults,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	var resp ChromaQueryResponse
	url := fmt.Sprintf("%s/collections/%s/query", c.baseURL, id)
	if err := c.do(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return nil, fmt.Errorf("query collection %q: %w", name, err)
	}
	return &resp, nil
}

// Delete removes records by id and/or metadata filter.
func (c *ChromaClient) Delete(ctx context.Context, name string, ids []string, where map[string]interface{}) error {
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{}
	if len(ids) > 0 {
		payload["ids"] = ids
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	url := fmt.Sprintf("%s/collections/%s/delete", c.baseURL, id)
	if err := c.do(ctx, http.MethodPost, url, payload, nil); err != nil {
		return fmt.Errorf("delete from collection %q: %w", name, err)
	}
	return nil
}

// Get fetches records with documents and metadatas, optionally filtered.
func (c *ChromaClient) Get(ctx context.Context, name string, where map[string]interface{}, limit int) (*ChromaGetResponse, error) {
	id, err := c.collectionID(ctx, name)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"include": []string{"documents", "metadatas"},
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	var resp ChromaGetResponse
	url := fmt.Sprintf("%s/collections/%s/get", c.baseURL, id)
	if err := c.do(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return nil, fmt.Errorf("get from collection %q: %w", name, err)
	}
	return &resp, nil
}

// Close releases idle connections; safe to call multiple times.
func (c *ChromaClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// collectionID resolves a collection name to its server-side id, caching
// the mapping; v2 record routes address collections by id, not name.
func (c *ChromaClient) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.collectionIDs[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	collection, err := c.GetOrCreateCollection(ctx, name)
	if err != nil {
		return "", err
	}
	return collection.ID, nil
}

// do issues a JSON request and decodes the response into out when non-nil.
func (c *ChromaClient) do(ctx context.Context, method, url string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chromadb returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
