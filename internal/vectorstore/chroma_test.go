package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-server/internal/db"
	"rag-server/internal/models"
)

const chromaAPIRoot = "/api/v2/tenants/default_tenant/databases/default_database"

// fakeChroma serves the slice of the ChromaDB v2 API the store touches.
type fakeChroma struct {
	upserts       []map[string]interface{}
	queryResponse db.ChromaQueryResponse
	getResponse   db.ChromaGetResponse
	deletes       []map[string]interface{}
	dropped       bool
}

func (f *fakeChroma) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"nanosecond heartbeat": 1})
	})
	mux.HandleFunc("POST "+chromaAPIRoot+"/collections", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["get_or_create"])
		json.NewEncoder(w).Encode(db.ChromaCollection{ID: "col-1", Name: body["name"].(string)})
	})
	mux.HandleFunc("DELETE "+chromaAPIRoot+"/collections/documents", func(w http.ResponseWriter, r *http.Request) {
		f.dropped = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST "+chromaAPIRoot+"/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.upserts = append(f.upserts, body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST "+chromaAPIRoot+"/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.queryResponse)
	})
	mux.HandleFunc("POST "+chromaAPIRoot+"/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.getResponse)
	})
	mux.HandleFunc("POST "+chromaAPIRoot+"/collections/col-1/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.deletes = append(f.deletes, body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET "+chromaAPIRoot+"/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(42)
	})
	return mux
}

func newTestChromaStore(t *testing.T, fake *fakeChroma) *ChromaStore {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	return NewChromaStore(db.ChromaConfig{Host: parsed.Hostname(), Port: port}, "documents", nil)
}

func TestChromaInitialize(t *testing.T) {
	store := newTestChromaStore(t, &fakeChroma{})
	require.NoError(t, store.Initialize(context.Background()))
}

func TestChromaAddDocuments_CarriesMetadata(t *testing.T) {
	fake := &fakeChroma{}
	store := newTestChromaStore(t, fake)

	chunk := testChunk("a_chunk_0000", "a", "hello world", 3)
	require.NoError(t, store.AddDocuments(context.Background(),
		[]models.Chunk{chunk}, [][]float32{{1, 0, 0}}))

	require.Len(t, fake.upserts, 1)
	ids := fake.upserts[0]["ids"].([]interface{})
	assert.Equal(t, "a_chunk_0000", ids[0])

	metas := fake.upserts[0]["metadatas"].([]interface{})
	meta := metas[0].(map[string]interface{})
	assert.Equal(t, "a", meta[metaDocumentID])
	assert.Equal(t, float64(3), meta["ordinal"])
	assert.Equal(t, "doc a", meta[metaDocumentName])
}

func TestChromaSearch_DistanceToScore(t *testing.T) {
	fake := &fakeChroma{
		queryResponse: db.ChromaQueryResponse{
			IDs:       [][]string{{"a_chunk_0000", "b_chunk_0000"}},
			Documents: [][]string{{"near text", "far text"}},
			Metadatas: [][]map[string]interface{}{{
				{metaDocumentID: "a", metaDocumentName: "doc a"},
				{metaDocumentID: "b"},
			}},
			Distances: [][]float32{{0.0, 1.0}},
		},
	}
	store := newTestChromaStore(t, fake)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// distance d maps to 1/(1+d)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	assert.Equal(t, "a", results[0].DocumentID)
	assert.Equal(t, "doc a", results[0].DocumentName)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestChromaSearch_EmptyResponse(t *testing.T) {
	store := newTestChromaStore(t, &fakeChroma{
		queryResponse: db.ChromaQueryResponse{IDs: [][]string{{}}},
	})

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromaDelete_ByDocumentCountsMatches(t *testing.T) {
	fake := &fakeChroma{
		getResponse: db.ChromaGetResponse{
			IDs: []string{"a_chunk_0000", "a_chunk_0001"},
		},
	}
	store := newTestChromaStore(t, fake)

	deleted, err := store.Delete(context.Background(), DeleteSelector{DocumentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	require.Len(t, fake.deletes, 1)
	where := fake.deletes[0]["where"].(map[string]interface{})
	assert.Equal(t, "a", where[metaDocumentID])
}

func TestChromaClear_DropsAndRecreates(t *testing.T) {
	fake := &fakeChroma{}
	store := newTestChromaStore(t, fake)

	require.NoError(t, store.Clear(context.Background()))
	assert.True(t, fake.dropped)
}

func TestChromaCount(t *testing.T) {
	store := newTestChromaStore(t, &fakeChroma{})

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, count)
}
