package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
)

// OllamaProvider generates embeddings via a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

var _ Provider = (*OllamaProvider)(nil)

// embedRequest is the Ollama /api/embeddings request format.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the Ollama /api/embeddings response format.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates a provider for the given Ollama base URL,
// embedding model, and expected vector dimension.
func NewOllamaProvider(baseURL, model string, dimension int) *OllamaProvider {
	return &OllamaProvider{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// EmbedDocuments embeds each text with an individual model call; the Ollama
// embeddings endpoint takes one prompt at a time, which also keeps batch and
// single-item calls referentially consistent.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, NewEmbeddingError("embed_documents", nil, "input batch is empty")
	}
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := p.embed(ctx, "embed_documents", text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, "embed_query", text)
}

// Dimension returns the configured vector length.
func (p *OllamaProvider) Dimension() int {
	return p.dimension
}

func (p *OllamaProvider) embed(ctx context.Context, operation, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(operation, nil, "input text is empty")
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, NewEmbeddingError(operation, err, "failed to marshal request")
	}

	url := fmt.Sprintf("%s/api/embeddings", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewEmbeddingError(operation, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewEmbeddingError(operation, err, "embedding service unreachable at "+p.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, NewEmbeddingError(operation, nil,
			fmt.Sprintf("embedding service returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewEmbeddingError(operation, err, "malformed response")
	}
	if len(decoded.Embedding) == 0 {
		return nil, NewEmbeddingError(operation, nil, "model returned an empty embedding")
	}
	return decoded.Embedding, nil
}
