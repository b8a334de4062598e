// Package routes wires HTTP paths to their handlers.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"rag-server/internal/handlers"
)

// Handlers bundles the handler set the router needs. Image is optional;
// image routes are only registered when image retrieval is configured.
type Handlers struct {
	Health   *handlers.HealthHandler
	Document *handlers.DocumentHandler
	Image    *handlers.ImageHandler
	Query    *handlers.QueryHandler
}

// RegisterRoutes sets up all application routes.
func RegisterRoutes(router *mux.Router, h *Handlers) {
	// Health
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Documents
	api.HandleFunc("/documents", h.Document.Ingest).Methods(http.MethodPost)
	api.HandleFunc("/documents", h.Document.List).Methods(http.MethodGet)
	api.HandleFunc("/documents/stats", h.Document.Stats).Methods(http.MethodGet)
	api.HandleFunc("/documents/clear", h.Document.Clear).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", h.Document.Delete).Methods(http.MethodDelete)

	// Images
	if h.Image != nil {
		api.HandleFunc("/images", h.Image.Ingest).Methods(http.MethodPost)
	}

	// Query and search
	api.HandleFunc("/query", h.Query.Query).Methods(http.MethodPost)
	api.HandleFunc("/search/keywords", h.Query.KeywordSearch).Methods(http.MethodPost)

	// Sessions
	api.HandleFunc("/sessions", h.Query.CreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.Query.ListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.Query.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.Query.DeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/clear", h.Query.ClearSessionHistory).Methods(http.MethodPost)
}
