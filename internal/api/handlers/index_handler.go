package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

type IndexHandler struct {
	indexing *services.IndexingService
	log      *logger.Logger
}

func NewIndexHandler(indexing *services.IndexingService, log *logger.Logger) *IndexHandler {
	return &IndexHandler{indexing: indexing, log: log}
}

type startIndexRequest struct {
	ChatIDs []int64 `json:"chat_ids,omitempty"`
}

// StartIndexing kicks off a background embedding job for the user. The
// response carries the job record; clients poll Status for progress.
func (h *IndexHandler) StartIndexing(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req startIndexRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	job, err := h.indexing.StartIndexing(r.Context(), userID, req.ChatIDs)
	if err != nil {
		if errors.Is(err, services.ErrIndexingInProgress) {
			http.Error(w, "indexing already in progress", http.StatusConflict)
			return
		}
		h.log.Error("start indexing failed", "user_id", userID, "error", err)
		http.Error(w, "failed to start indexing", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(job)
}

// Status reports the merged job record and cached progress for the user.
func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.indexing.Status(r.Context(), userID)
	if err != nil {
		h.log.Error("status lookup failed", "user_id", userID, "error", err)
		http.Error(w, "failed to fetch status", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(status)
}
