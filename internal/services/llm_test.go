package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerate(t *testing.T) {
	var received generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(generateResponse{Response: "generated text", Done: true})
	}))
	defer server.Close()

	generator := NewOllamaGenerator(server.URL, "gpt-oss", nil)

	answer, err := generator.Generate(context.Background(), "some prompt", []string{"aW1n"})
	require.NoError(t, err)

	assert.Equal(t, "generated text", answer)
	assert.Equal(t, "gpt-oss", received.Model)
	assert.Equal(t, "some prompt", received.Prompt)
	assert.False(t, received.Stream)
	assert.Equal(t, []string{"aW1n"}, received.Images)
}

func TestOllamaGenerate_EmptyPrompt(t *testing.T) {
	generator := NewOllamaGenerator("http://localhost:11434", "gpt-oss", nil)

	_, err := generator.Generate(context.Background(), "  ", nil)
	require.Error(t, err)
}

func TestOllamaGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	generator := NewOllamaGenerator(server.URL, "missing-model", nil)

	_, err := generator.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaGenerate_Unreachable(t *testing.T) {
	generator := NewOllamaGenerator("http://127.0.0.1:1", "gpt-oss", nil)

	_, err := generator.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
}
