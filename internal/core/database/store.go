package db

import (
	"context"
	"errors"

	"github.com/t2t2-app/t2t2/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines all persistence operations the services need. It abstracts
// Postgres/pgvector so higher layers never depend on a specific DB.
type Store interface {
	UpsertUser(ctx context.Context, user *models.User) error
	GetUserByTgID(ctx context.Context, tgUserID int64) (*models.User, error)

	UpsertChat(ctx context.Context, chat *models.Chat) error
	ChatsByID(ctx context.Context, ids []int64) (map[int64]models.Chat, error)

	// InsertMessages inserts a batch, skipping rows whose (chat_id, msg_id)
	// already exists, and links every row to the ingesting user. Returns the
	// number of newly inserted messages.
	InsertMessages(ctx context.Context, userID string, msgs []models.Message) (int, error)
	GetMessageByChatMsg(ctx context.Context, chatID, msgID int64) (*models.Message, error)
	ListMessagesForUser(ctx context.Context, userID string, chatIDs []int64) ([]models.Message, error)

	HasEmbedding(ctx context.Context, messageID string, chunkIndex int) (bool, error)
	InsertEmbeddings(ctx context.Context, embs []models.MessageEmbedding) error

	// SearchEmbeddings ranks the user's own chunks by cosine similarity to
	// the query vector, descending. Rows owned by other users are never
	// returned.
	SearchEmbeddings(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SimilarChunk, error)

	InsertMessageImage(ctx context.Context, img *models.MessageImage) error
	ImagesByMessage(ctx context.Context, messageIDs []string) (map[string]models.MessageImage, error)

	CreateIndexJob(ctx context.Context, job *models.IndexJob) error
	UpdateIndexJob(ctx context.Context, job *models.IndexJob) error
	LatestIndexJob(ctx context.Context, userID string) (*models.IndexJob, error)

	CreateTimeline(ctx context.Context, tl *models.Timeline) error
	GetTimeline(ctx context.Context, id, userID string) (*models.Timeline, error)

	Close() error
}
