package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"rag-server/internal/services"
)

// DocumentHandler handles ingestion and document management requests.
type DocumentHandler struct {
	docService *services.DocumentService
	logger     *log.Logger
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(docService *services.DocumentService, logger *log.Logger) *DocumentHandler {
	return &DocumentHandler{docService: docService, logger: logger}
}

type ingestRequest struct {
	// Either a server-local path...
	Path string `json:"path,omitempty"`
	// ...or inline content with a name and optional source.
	Name    string `json:"name,omitempty"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content,omitempty"`
}

// Ingest handles POST /api/v1/documents.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		result *services.IngestResult
		err    error
	)
	switch {
	case req.Path != "":
		result, err = h.docService.IngestFile(r.Context(), req.Path)
	case req.Content != "":
		if req.Name == "" {
			sendError(w, http.StatusBadRequest, "name is required for inline content")
			return
		}
		result, err = h.docService.IngestText(r.Context(), req.Name, req.Source, req.Content)
	default:
		sendError(w, http.StatusBadRequest, "either path or content must be provided")
		return
	}
	if err != nil {
		h.logger.Printf("Ingestion failed: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusCreated, result)
}

// List handles GET /api/v1/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			sendError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	docs, err := h.docService.List(r.Context(), limit)
	if err != nil {
		h.logger.Printf("Listing documents failed: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

// Delete handles DELETE /api/v1/documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	deleted, err := h.docService.Delete(r.Context(), documentID)
	if err != nil {
		h.logger.Printf("Deleting document %s failed: %v", documentID, err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == 0 {
		sendError(w, http.StatusNotFound, "document not found: "+documentID)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":    documentID,
		"chunks_deleted": deleted,
	})
}

// Stats handles GET /api/v1/documents/stats.
func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.docService.Count(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"chunk_count": count})
}

// Clear handles POST /api/v1/documents/clear.
func (h *DocumentHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.docService.Clear(r.Context()); err != nil {
		h.logger.Printf("Clearing collection failed: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
