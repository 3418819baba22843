package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

type QueryHandler struct {
	rag *services.RAGService
	log *logger.Logger
}

func NewQueryHandler(rag *services.RAGService, log *logger.Logger) *QueryHandler {
	return &QueryHandler{rag: rag, log: log}
}

type queryRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeImages bool   `json:"include_images,omitempty"`
}

// Query answers a natural-language question from the user's message history.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := h.rag.Query(r.Context(), userID, req.Query, req.MaxResults, req.IncludeImages)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}
		h.log.Error("query failed", "user_id", userID, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(result)
}

// FindSimilar returns raw ranked retrieval hits without LLM generation.
func (h *QueryHandler) FindSimilar(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	results, err := h.rag.FindSimilar(r.Context(), userID, req.Query, req.MaxResults)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}
		h.log.Error("similarity search failed", "user_id", userID, "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"results": results,
		"count":   len(results),
	})
}
