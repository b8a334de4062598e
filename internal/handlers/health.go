package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"rag-server/internal/config"
	"rag-server/internal/services"
	"rag-server/internal/vectorstore"
)

// HealthHandler reports service liveness, corpus stats, and which vector
// store backends the current configuration could run.
type HealthHandler struct {
	docService *services.DocumentService
	cfg        *config.Config
	logger     *log.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(docService *services.DocumentService, cfg *config.Config, logger *log.Logger) *HealthHandler {
	return &HealthHandler{docService: docService, cfg: cfg, logger: logger}
}

type healthResponse struct {
	Status         string          `json:"status"`
	VectorDB       string          `json:"vector_db"`
	Available      map[string]bool `json:"available_backends"`
	ChunkCount     int             `json:"chunk_count"`
	LLMModel       string          `json:"llm_model"`
	EmbeddingModel string          `json:"embedding_model"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	available := make(map[string]bool, len(vectorstore.Kinds()))
	for _, kind := range vectorstore.Kinds() {
		available[string(kind)] = vectorstore.IsAvailable(kind, h.cfg)
	}

	resp := healthResponse{
		Status:         "ok",
		VectorDB:       h.cfg.VectorDBType,
		Available:      available,
		LLMModel:       h.cfg.OllamaLLMModel,
		EmbeddingModel: h.cfg.OllamaEmbeddingModel,
	}

	count, err := h.docService.Count(ctx)
	if err != nil {
		h.logger.Printf("Health check degraded: %v", err)
		resp.Status = "degraded"
		sendJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.ChunkCount = count

	sendJSON(w, http.StatusOK, resp)
}
