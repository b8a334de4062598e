package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"rag-server/internal/services"
)

// QueryHandler handles RAG queries, keyword search, and session management.
type QueryHandler struct {
	engine   *services.Engine
	keywords *services.KeywordIndex
	logger   *log.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine *services.Engine, keywords *services.KeywordIndex, logger *log.Logger) *QueryHandler {
	return &QueryHandler{engine: engine, keywords: keywords, logger: logger}
}

type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	// NResults overrides the engine's default result count when positive.
	NResults int `json:"n_results,omitempty"`
}

// Query handles POST /api/v1/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.NResults < 0 {
		sendError(w, http.StatusBadRequest, "n_results must not be negative")
		return
	}

	resp, err := h.engine.Query(r.Context(), req.SessionID, req.Question, req.NResults)
	if err != nil {
		var engineErr *services.EngineError
		if errors.As(err, &engineErr) && engineErr.Err == nil {
			// Pure validation failures carry no wrapped cause.
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Printf("Query failed: %v", err)
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

type keywordSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// KeywordSearch handles POST /api/v1/search/keywords.
func (h *QueryHandler) KeywordSearch(w http.ResponseWriter, r *http.Request) {
	var req keywordSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	results, err := h.keywords.Search(req.Query, req.Limit)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
}

type createSessionRequest struct {
	Name string `json:"name,omitempty"`
}

// CreateSession handles POST /api/v1/sessions. The body is optional; an
// empty body creates an unnamed session.
func (h *QueryHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session := h.engine.Sessions().Create(req.Name)
	sendJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID, "name": session.Name})
}

// ListSessions handles GET /api/v1/sessions.
func (h *QueryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.Sessions().List()
	sendJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *QueryHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, ok := h.engine.Sessions().Get(id)
	if !ok {
		sendError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"name":       session.Name,
		"created_at": session.CreatedAt,
		"messages":   session.History.Messages(),
	})
}

// ClearSessionHistory handles POST /api/v1/sessions/{id}/clear.
func (h *QueryHandler) ClearSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.engine.Sessions().ClearHistory(id) {
		sendError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// DeleteSession handles DELETE /api/v1/sessions/{id}.
func (h *QueryHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.engine.Sessions().Delete(id) {
		sendError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
