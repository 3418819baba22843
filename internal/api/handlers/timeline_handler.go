package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

type TimelineHandler struct {
	rag   *services.RAGService
	store db.Store
	log   *logger.Logger
}

func NewTimelineHandler(rag *services.RAGService, store db.Store, log *logger.Logger) *TimelineHandler {
	return &TimelineHandler{rag: rag, store: store, log: log}
}

type timelineRequest struct {
	Query string `json:"query"`
}

// Generate builds and persists a date-grouped timeline for the query.
func (h *TimelineHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req timelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	tl, err := h.rag.GenerateTimeline(r.Context(), userID, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			http.Error(w, "query is required", http.StatusBadRequest)
		case errors.Is(err, services.ErrInvalidTimelineQuery):
			http.Error(w, "invalid timeline query format", http.StatusBadRequest)
		default:
			h.log.Error("timeline generation failed", "user_id", userID, "error", err)
			http.Error(w, "timeline generation failed", http.StatusInternalServerError)
		}
		return
	}

	_ = json.NewEncoder(w).Encode(tl)
}

// Get fetches a previously generated timeline. Lookups are scoped to the
// requesting user; another user's timeline id yields 404.
func (h *TimelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	tl, err := h.store.GetTimeline(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "timeline not found", http.StatusNotFound)
			return
		}
		h.log.Error("timeline lookup failed", "user_id", userID, "error", err)
		http.Error(w, "failed to fetch timeline", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(tl)
}
