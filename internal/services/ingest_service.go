package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/t2t2-app/t2t2/internal/core/objectstore"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
)

// IngestStore is the slice of persistence the ingest path needs.
type IngestStore interface {
	UpsertChat(ctx context.Context, chat *models.Chat) error
	InsertMessages(ctx context.Context, userID string, msgs []models.Message) (int, error)
	GetMessageByChatMsg(ctx context.Context, chatID, msgID int64) (*models.Message, error)
	InsertMessageImage(ctx context.Context, img *models.MessageImage) error
}

// MediaItem is a photo payload attached to an ingested message.
type MediaItem struct {
	ChatID      int64
	MsgID       int64
	ContentType string
	Data        []byte
}

// IngestService stores incoming message batches. The upstream source is
// trusted to deliver deduplicated messages per (chat, msg id); duplicates
// that slip through are dropped by the store's uniqueness constraint.
type IngestService struct {
	store IngestStore
	media objectstore.MediaStore // nil when no object storage is configured
	log   *logger.Logger
}

func NewIngestService(store IngestStore, media objectstore.MediaStore, log *logger.Logger) *IngestService {
	return &IngestService{store: store, media: media, log: log}
}

// IngestBatch upserts the chats, inserts the messages on behalf of the user
// and stores any media payloads. Returns the number of newly inserted
// messages.
func (s *IngestService) IngestBatch(ctx context.Context, userID string, chats []models.Chat, msgs []models.Message, media []MediaItem) (int, error) {
	for i := range chats {
		if err := s.store.UpsertChat(ctx, &chats[i]); err != nil {
			return 0, fmt.Errorf("upsert chat %d: %w", chats[i].ID, err)
		}
	}

	inserted, err := s.store.InsertMessages(ctx, userID, msgs)
	if err != nil {
		return 0, fmt.Errorf("insert messages: %w", err)
	}

	for _, item := range media {
		if err := s.storeMedia(ctx, item); err != nil {
			// Media is best-effort; the message text is already ingested.
			s.log.Error("failed to store media", "chat_id", item.ChatID, "msg_id", item.MsgID, "error", err)
		}
	}

	s.log.Info("ingested message batch", "user_id", userID, "received", len(msgs), "inserted", inserted)
	return inserted, nil
}

func (s *IngestService) storeMedia(ctx context.Context, item MediaItem) error {
	if s.media == nil {
		return fmt.Errorf("no media store configured")
	}
	if len(item.Data) == 0 {
		return fmt.Errorf("empty media payload")
	}

	msg, err := s.store.GetMessageByChatMsg(ctx, item.ChatID, item.MsgID)
	if err != nil {
		return fmt.Errorf("resolve message: %w", err)
	}

	sum := sha256.Sum256(item.Data)
	hash := hex.EncodeToString(sum[:])

	url, err := s.media.UploadMedia(ctx, hash, item.Data, item.ContentType)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	err = s.store.InsertMessageImage(ctx, &models.MessageImage{
		MessageID: msg.ID,
		FileHash:  hash,
		URL:       url,
	})
	if err != nil {
		// Remove the blob so a failed row insert leaves no orphan upload.
		if delErr := s.media.DeleteMedia(ctx, hash); delErr != nil {
			s.log.Error("failed to delete orphaned media", "hash", hash, "error", delErr)
		}
		return fmt.Errorf("insert image row: %w", err)
	}
	return nil
}
