package services

import (
	"context"
	"fmt"

	"github.com/t2t2-app/t2t2/internal/core"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
)

// progressEvery controls how often the progress callback fires, in chunks.
const progressEvery = 10

// ProgressFunc receives (processed, total) during a batch run.
type ProgressFunc func(processed, total int)

// EmbeddingStore is the slice of persistence the embedding pass needs.
type EmbeddingStore interface {
	ChatsByID(ctx context.Context, ids []int64) (map[int64]models.Chat, error)
	HasEmbedding(ctx context.Context, messageID string, chunkIndex int) (bool, error)
	InsertEmbeddings(ctx context.Context, embs []models.MessageEmbedding) error
}

// EmbeddingService turns chunks into vectors and persists them idempotently:
// a chunk whose owning message already has an embedding at index 0 is
// skipped, so re-running after a partial failure never duplicates work.
type EmbeddingService struct {
	store    EmbeddingStore
	embedder core.EmbeddingProvider
	chunker  *SmartChunker
	log      *logger.Logger
}

func NewEmbeddingService(store EmbeddingStore, embedder core.EmbeddingProvider, chunker *SmartChunker, log *logger.Logger) *EmbeddingService {
	return &EmbeddingService{store: store, embedder: embedder, chunker: chunker, log: log}
}

// EmbedMessagesBatch chunks the messages, embeds each new chunk one provider
// call at a time, and commits all new rows in a single transaction at the
// end. A provider failure on one chunk is logged and skipped; a failure in
// the final commit is fatal and surfaces to the caller. Returns the number
// of embeddings created.
func (s *EmbeddingService) EmbedMessagesBatch(ctx context.Context, messages []models.Message, progress ProgressFunc) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	chats, err := s.store.ChatsByID(ctx, distinctChatIDs(messages))
	if err != nil {
		return 0, fmt.Errorf("load chats: %w", err)
	}

	chunks := s.chunker.GroupMessagesForChunking(messages, chats)

	var rows []models.MessageEmbedding
	for i, chunk := range chunks {
		// The chunk is owned by its first message; chunk index is always 0
		// for smart chunks.
		primary := chunk.Messages[0]

		exists, err := s.store.HasEmbedding(ctx, primary.ID, 0)
		if err != nil {
			return 0, fmt.Errorf("embedding lookup: %w", err)
		}
		if exists {
			s.log.Debug("chunk already embedded", "message_id", primary.ID)
			continue
		}

		vecs, err := s.embedder.EmbedTexts(ctx, []string{chunk.Text})
		if err != nil || len(vecs) == 0 {
			// Non-fatal at chunk granularity; the next run picks it up.
			s.log.Error("failed to embed chunk", "chunk", i, "error", err)
			continue
		}

		rows = append(rows, models.MessageEmbedding{
			MessageID:  primary.ID,
			ChunkIndex: 0,
			ChunkText:  chunk.Text,
			Metadata:   chunk.Metadata,
			Embedding:  vecs[0],
		})

		if chunk.Metadata.IsAnswer && chunk.Metadata.LikelyResponseTo != nil {
			s.log.Info("tagged answer as response to question",
				"answer", truncateRunes(chunk.Text, 50),
				"question_msg_id", chunk.Metadata.LikelyResponseTo.MsgID)
		}

		if progress != nil && (i+1)%progressEvery == 0 {
			progress(i+1, len(chunks))
		}
	}

	if err := s.store.InsertEmbeddings(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert embeddings: %w", err)
	}

	s.log.Info("embedding batch done", "embeddings", len(rows), "messages", len(messages))
	return len(rows), nil
}

func distinctChatIDs(messages []models.Message) []int64 {
	seen := make(map[int64]bool, len(messages))
	var ids []int64
	for _, m := range messages {
		if !seen[m.ChatID] {
			seen[m.ChatID] = true
			ids = append(ids, m.ChatID)
		}
	}
	return ids
}
