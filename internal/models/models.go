package models

import (
	"time"
)

// User represents an authenticated Telegram user of the system.
type User struct {
	ID        string    `db:"id" json:"id"`
	TgUserID  int64     `db:"tg_user_id" json:"tg_user_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chat is a Telegram chat a user's messages belong to.
type Chat struct {
	ID        int64     `db:"id" json:"id"` // Telegram chat ID
	Title     string    `db:"title" json:"title"`
	Type      string    `db:"type" json:"type"` // private, group, channel
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Message is one chat message. (ChatID, MsgID) is unique; messages are
// immutable once ingested.
type Message struct {
	ID           string    `db:"id" json:"id"`
	ChatID       int64     `db:"chat_id" json:"chat_id"`
	MsgID        int64     `db:"msg_id" json:"msg_id"` // Telegram message ID
	SenderID     int64     `db:"sender_id" json:"sender_id"`
	SenderName   string    `db:"sender_name" json:"sender_name"`
	Text         string    `db:"text" json:"text"`
	Date         time.Time `db:"date" json:"date"`
	ReplyToMsgID *int64    `db:"reply_to_msg_id" json:"reply_to_msg_id,omitempty"`
	HasMedia     bool      `db:"has_media" json:"has_media"`
	MediaType    string    `db:"media_type" json:"media_type,omitempty"` // photo, video, document, etc.
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Link returns the t.me deep link back to the original message.
func (m *Message) Link() string {
	return MessageLink(m.ChatID, m.MsgID)
}

// MessageEmbedding is the vector representation of exactly one chunk, owned
// by the chunk's first message. At most one row exists per
// (MessageID, ChunkIndex); ChunkIndex is always 0 for smart chunks.
type MessageEmbedding struct {
	ID         string        `db:"id" json:"id"`
	MessageID  string        `db:"message_id" json:"message_id"`
	ChunkIndex int           `db:"chunk_index" json:"chunk_index"`
	ChunkText  string        `db:"chunk_text" json:"chunk_text"`
	Metadata   ChunkMetadata `db:"metadata" json:"metadata"`
	Embedding  []float32     `db:"embedding" json:"-"` // pgvector column
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// MessageImage is a media attachment stored in object storage, deduplicated
// by content hash.
type MessageImage struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	FileHash  string    `db:"file_hash" json:"file_hash"` // SHA-256
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ResponseRef points a short answer back at the question it likely responds
// to, recovered by the backward scan in the chunking service.
type ResponseRef struct {
	MsgID           int64   `json:"msg_id"`
	Text            string  `json:"text"`
	Sender          string  `json:"sender"`
	TimeDiffSeconds float64 `json:"time_diff_seconds"`
}

// ChunkMetadata carries the conversational context of one chunk. The known
// shapes are explicit optional fields rather than an open map: grouped chunks
// set MsgIDs/MessageLinks/MessageCount/TimeSpanSeconds, standalone chunks set
// MsgID/MessageLink and the reply/question/answer fields.
type ChunkMetadata struct {
	Timestamp  time.Time `json:"timestamp"`
	ChatName   string    `json:"chat_name"`
	ChatID     int64     `json:"chat_id"`
	SenderName string    `json:"sender_name"`
	SenderID   int64     `json:"sender_id"`
	IsGrouped  bool      `json:"is_grouped"`

	// Grouped chunks only.
	MsgIDs          []int64  `json:"msg_ids,omitempty"`
	MessageLinks    []string `json:"message_links,omitempty"`
	MessageCount    int      `json:"message_count,omitempty"`
	TimeSpanSeconds float64  `json:"time_span_seconds,omitempty"`

	// Standalone chunks only.
	MsgID         int64  `json:"msg_id,omitempty"`
	MessageLink   string `json:"message_link,omitempty"`
	ReplyToMsgID  *int64 `json:"reply_to_msg_id,omitempty"`
	ReplyToText   string `json:"reply_to_text,omitempty"`
	ReplyToSender string `json:"reply_to_sender,omitempty"`
	IsQuestion    bool   `json:"is_question,omitempty"`
	IsAnswer      bool   `json:"is_answer,omitempty"`

	LikelyResponseTo *ResponseRef `json:"likely_response_to,omitempty"`
}

// SimilarChunk is one nearest-neighbor candidate returned by the vector
// store, already scoped to the requesting user.
type SimilarChunk struct {
	MessageID  string
	MsgID      int64
	ChatID     int64
	FullText   string
	ChunkText  string
	Metadata   ChunkMetadata
	Date       time.Time
	SenderName string
	HasMedia   bool
	Similarity float64 // 1 - cosine distance
}

// Index job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// IndexJob is the persisted record of one background indexing run. At most
// one job is running per user; a job runs to completion or failure and cannot
// be cancelled.
type IndexJob struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Status         string    `db:"status" json:"status"`
	ChatIDs        []int64   `db:"chat_ids" json:"chat_ids,omitempty"`
	TotalMessages  int       `db:"total_messages" json:"total_messages"`
	EmbeddedChunks int       `db:"embedded_chunks" json:"embedded_chunks"`
	Error          string    `db:"error" json:"error,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// IndexProgress is the cooperative per-user progress signal written to the
// cache during indexing. Last write wins; it only drives status display.
type IndexProgress struct {
	Status          string    `json:"status"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TimelineItem is one retrieved message within a timeline day.
type TimelineItem struct {
	MsgID      int64     `json:"msg_id"`
	Text       string    `json:"text"`
	Date       time.Time `json:"date"`
	ChatID     int64     `json:"chat_id"`
	ChatName   string    `json:"chat_name"`
	SenderName string    `json:"sender_name"`
	Link       string    `json:"link"`
	Similarity float64   `json:"similarity"`
}

// TimelineEntry groups retrieved items under one calendar date.
type TimelineEntry struct {
	Date  string         `json:"date"` // YYYY-MM-DD
	Items []TimelineItem `json:"items"`
}

// TimelineResult is the persisted snapshot of a timeline query.
type TimelineResult struct {
	Entries []TimelineEntry `json:"entries"`
}

// Timeline is a persisted timeline snapshot for one user query.
type Timeline struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Query     string         `db:"query" json:"query"`
	Result    TimelineResult `db:"result" json:"result"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
