package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
	"github.com/t2t2-app/t2t2/internal/services"
)

type IngestHandler struct {
	ingest *services.IngestService
	log    *logger.Logger
}

func NewIngestHandler(ingest *services.IngestService, log *logger.Logger) *IngestHandler {
	return &IngestHandler{ingest: ingest, log: log}
}

type ingestChat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type ingestMessage struct {
	ChatID       int64     `json:"chat_id"`
	MsgID        int64     `json:"msg_id"`
	SenderID     int64     `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
	ReplyToMsgID *int64    `json:"reply_to_msg_id,omitempty"`
	HasMedia     bool      `json:"has_media"`
	MediaType    string    `json:"media_type,omitempty"`

	// Optional inline photo payload, stored to object storage.
	PhotoBase64      string `json:"photo_base64,omitempty"`
	PhotoContentType string `json:"photo_content_type,omitempty"`
}

type ingestRequest struct {
	Chats    []ingestChat    `json:"chats"`
	Messages []ingestMessage `json:"messages"`
}

// IngestMessages accepts a batch of messages (with chat metadata and
// optional photos) on behalf of the authenticated user.
func (h *IngestHandler) IngestMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "no messages", http.StatusBadRequest)
		return
	}

	chats := make([]models.Chat, 0, len(req.Chats))
	for _, c := range req.Chats {
		chats = append(chats, models.Chat{ID: c.ID, Title: c.Title, Type: c.Type})
	}

	msgs := make([]models.Message, 0, len(req.Messages))
	var media []services.MediaItem
	for _, m := range req.Messages {
		msgs = append(msgs, models.Message{
			ChatID:       m.ChatID,
			MsgID:        m.MsgID,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			Text:         m.Text,
			Date:         m.Date,
			ReplyToMsgID: m.ReplyToMsgID,
			HasMedia:     m.HasMedia,
			MediaType:    m.MediaType,
		})
		if m.PhotoBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(m.PhotoBase64)
			if err != nil {
				http.Error(w, "invalid photo payload", http.StatusBadRequest)
				return
			}
			media = append(media, services.MediaItem{
				ChatID:      m.ChatID,
				MsgID:       m.MsgID,
				ContentType: m.PhotoContentType,
				Data:        data,
			})
		}
	}

	inserted, err := h.ingest.IngestBatch(r.Context(), userID, chats, msgs, media)
	if err != nil {
		h.log.Error("ingest failed", "user_id", userID, "error", err)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]int{
		"received": len(req.Messages),
		"inserted": inserted,
	})
}
