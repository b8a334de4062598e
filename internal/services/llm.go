// Package services holds the application layer: retrieval and fusion,
// RAG orchestration, chat sessions, keyword indexing, and document
// ingestion.
package services

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
)

// Generator produces an answer from an assembled prompt. Image payloads
// are base64-encoded and passed through to multimodal models; plain text
// models ignore them.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []string) (string, error)
}

// OllamaGenerator calls a local Ollama server's generate endpoint in
// non-streaming mode.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *log.Logger
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator builds a generator for the given server and model.
func NewOllamaGenerator(baseURL, model string, logger *log.Logger) *OllamaGenerator {
	if logger == nil {
		logger = log.New(os.Stdout, "[LLM] ", log.LstdFlags)
	}
	return &OllamaGenerator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		// Generation on local hardware can take minutes for long prompts.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, images []string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", NewEngineError("generate", nil, "prompt must not be empty")
	}

	payload, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: false,
		Images: images,
	})
	if err != nil {
		return "", NewEngineError("generate", err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", NewEngineError("generate", err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", NewEngineError("generate", err, "ollama unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", NewEngineError("generate", nil,
			fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, string(raw)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewEngineError("generate", err, "decoding response")
	}

	g.logger.Printf("[LLM] Generated %d chars with %s in %s",
		len(out.Response), g.model, time.Since(start).Round(time.Millisecond))
	return out.Response, nil
}
