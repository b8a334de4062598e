package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeOllama serves /api/embeddings with a deterministic vector derived
// from the prompt length, so referential consistency is observable.
func newFakeOllama(t *testing.T, dimension int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float32, dimension)
		for i := range vec {
			vec[i] = float32(len(req.Prompt))
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
	}))
}

func TestOllamaProvider_EmbedQuery(t *testing.T) {
	srv := newFakeOllama(t, 8)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 8)
	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, float32(5), vec[0])
}

func TestOllamaProvider_EmbedDocuments(t *testing.T) {
	srv := newFakeOllama(t, 4)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 4)
	vecs, err := p.EmbedDocuments(context.Background(), []string{"one", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(3), vecs[0][0])
	assert.Equal(t, float32(5), vecs[1][0])
}

func TestOllamaProvider_BatchAndQueryConsistent(t *testing.T) {
	srv := newFakeOllama(t, 4)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 4)

	batch, err := p.EmbedDocuments(context.Background(), []string{"same text"})
	require.NoError(t, err)
	single, err := p.EmbedQuery(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, batch[0], single)
}

func TestOllamaProvider_EmptyInputs(t *testing.T) {
	srv := newFakeOllama(t, 4)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 4)

	_, err := p.EmbedDocuments(context.Background(), nil)
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)

	_, err = p.EmbedDocuments(context.Background(), []string{"ok", "   "})
	require.ErrorAs(t, err, &embErr)

	_, err = p.EmbedQuery(context.Background(), "")
	require.ErrorAs(t, err, &embErr)
}

func TestOllamaProvider_ServiceUnreachable(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "nomic-embed-text", 4)

	_, err := p.EmbedQuery(context.Background(), "hello")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, "embed_query", embErr.Operation)
}

func TestOllamaProvider_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 4)
	_, err := p.EmbedQuery(context.Background(), "hello")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
}

func TestOllamaProvider_Dimension(t *testing.T) {
	p := NewOllamaProvider("http://localhost:11434", "nomic-embed-text", 768)
	assert.Equal(t, 768, p.Dimension())
}
