package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"rag-server/internal/services"
)

// ImageHandler handles image ingestion into the image collection.
type ImageHandler struct {
	imageService *services.ImageService
	logger       *log.Logger
}

// NewImageHandler creates an image handler.
func NewImageHandler(imageService *services.ImageService, logger *log.Logger) *ImageHandler {
	return &ImageHandler{imageService: imageService, logger: logger}
}

type imageIngestRequest struct {
	// A single server-local image file...
	Path string `json:"path,omitempty"`
	// ...or a directory of images.
	Directory string `json:"directory,omitempty"`
}

// Ingest handles POST /api/v1/images.
func (h *ImageHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req imageIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch {
	case req.Path != "" && req.Directory != "":
		sendError(w, http.StatusBadRequest, "provide either path or directory, not both")
	case req.Path != "":
		result, err := h.imageService.IngestImage(r.Context(), req.Path)
		if err != nil {
			h.logger.Printf("Image ingestion failed: %v", err)
			sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sendJSON(w, http.StatusCreated, result)
	case req.Directory != "":
		results, err := h.imageService.IngestDirectory(r.Context(), req.Directory)
		if err != nil {
			h.logger.Printf("Image directory ingestion failed: %v", err)
			sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sendJSON(w, http.StatusCreated, map[string]interface{}{"images": results, "count": len(results)})
	default:
		sendError(w, http.StatusBadRequest, "either path or directory must be provided")
	}
}
