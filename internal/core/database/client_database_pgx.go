package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/t2t2-app/t2t2/internal/config"
	"github.com/t2t2-app/t2t2/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, sqlDB, cfg.EmbedDim); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: sqlDB}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) UpsertUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO users (id, tg_user_id, username, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (tg_user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = now()
		RETURNING id
	`
	return c.db.QueryRowContext(ctx, q,
		user.ID, user.TgUserID, user.Username, user.FirstName, user.LastName).Scan(&user.ID)
}

func (c *DatabaseClient) GetUserByTgID(ctx context.Context, tgUserID int64) (*models.User, error) {
	const q = `
		SELECT id, tg_user_id, username, first_name, last_name, created_at, updated_at
		FROM users WHERE tg_user_id = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, tgUserID).Scan(
		&u.ID, &u.TgUserID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Chats

func (c *DatabaseClient) UpsertChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		return errors.New("nil chat")
	}
	const q = `
		INSERT INTO chats (id, title, type, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, type = EXCLUDED.type
	`
	_, err := c.db.ExecContext(ctx, q, chat.ID, chat.Title, chat.Type)
	return err
}

func (c *DatabaseClient) ChatsByID(ctx context.Context, ids []int64) (map[int64]models.Chat, error) {
	out := make(map[int64]models.Chat, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	const q = `
		SELECT id, title, type, created_at
		FROM chats
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb)::bigint)
	`
	rows, err := c.db.QueryContext(ctx, q, string(encoded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ch models.Chat
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Type, &ch.CreatedAt); err != nil {
			return nil, err
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// Messages

// InsertMessages inserts a batch in one transaction, skipping duplicates on
// (chat_id, msg_id) and linking each row to the ingesting user.
func (c *DatabaseClient) InsertMessages(ctx context.Context, userID string, msgs []models.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}

	const qInsert = `
		INSERT INTO messages
			(id, chat_id, msg_id, sender_id, sender_name, text, date, reply_to_msg_id, has_media, media_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (chat_id, msg_id) DO NOTHING
		RETURNING id
	`
	const qLink = `
		INSERT INTO user_messages (user_id, message_id)
		SELECT $1, id FROM messages WHERE chat_id = $2 AND msg_id = $3
		ON CONFLICT DO NOTHING
	`

	inserted := 0
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		var id string
		err := tx.QueryRowContext(ctx, qInsert,
			m.ID, m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Text, m.Date,
			m.ReplyToMsgID, m.HasMedia, m.MediaType,
		).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			// Already ingested; still link the user to the existing row.
		case err != nil:
			_ = tx.Rollback()
			return 0, err
		default:
			m.ID = id
			inserted++
		}

		if _, err := tx.ExecContext(ctx, qLink, userID, m.ChatID, m.MsgID); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	return inserted, tx.Commit()
}

func (c *DatabaseClient) GetMessageByChatMsg(ctx context.Context, chatID, msgID int64) (*models.Message, error) {
	const q = `
		SELECT id, chat_id, msg_id, sender_id, sender_name, text, date,
		       reply_to_msg_id, has_media, media_type, created_at
		FROM messages
		WHERE chat_id = $1 AND msg_id = $2
	`
	var (
		m                     models.Message
		senderName, mediaType sql.NullString
	)
	err := c.db.QueryRowContext(ctx, q, chatID, msgID).Scan(
		&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &senderName, &m.Text, &m.Date,
		&m.ReplyToMsgID, &m.HasMedia, &mediaType, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.SenderName = senderName.String
	m.MediaType = mediaType.String
	return &m, nil
}

func (c *DatabaseClient) ListMessagesForUser(ctx context.Context, userID string, chatIDs []int64) ([]models.Message, error) {
	q := `
		SELECT m.id, m.chat_id, m.msg_id, m.sender_id, m.sender_name, m.text, m.date,
		       m.reply_to_msg_id, m.has_media, m.media_type, m.created_at
		FROM messages m
		JOIN user_messages um ON um.message_id = m.id
		WHERE um.user_id = $1
	`
	args := []any{userID}
	if len(chatIDs) > 0 {
		encoded, err := json.Marshal(chatIDs)
		if err != nil {
			return nil, err
		}
		q += ` AND m.chat_id IN (SELECT jsonb_array_elements_text($2::jsonb)::bigint)`
		args = append(args, string(encoded))
	}
	q += ` ORDER BY m.date ASC`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var senderName, mediaType sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &senderName, &m.Text, &m.Date,
			&m.ReplyToMsgID, &m.HasMedia, &mediaType, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.SenderName = senderName.String
		m.MediaType = mediaType.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Embeddings

func (c *DatabaseClient) HasEmbedding(ctx context.Context, messageID string, chunkIndex int) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM message_embeddings WHERE message_id = $1 AND chunk_index = $2
		)
	`
	var exists bool
	err := c.db.QueryRowContext(ctx, q, messageID, chunkIndex).Scan(&exists)
	return exists, err
}

// InsertEmbeddings inserts embedding rows in a single transaction.
func (c *DatabaseClient) InsertEmbeddings(ctx context.Context, embs []models.MessageEmbedding) error {
	if len(embs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO message_embeddings
			(id, message_id, chunk_index, chunk_text, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range embs {
		e := &embs[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		vec := pgvector.NewVector(e.Embedding)

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.MessageID, e.ChunkIndex, e.ChunkText, string(meta), vec,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SearchEmbeddings finds the user's top-k chunks for a query embedding.
// The user_messages join is the tenant-isolation boundary: a row is only
// visible to users the owning message was ingested for.
func (c *DatabaseClient) SearchEmbeddings(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SimilarChunk, error) {
	const q = `
		SELECT m.id, m.msg_id, m.chat_id, m.text, m.date, m.sender_name, m.has_media,
		       e.chunk_text, e.metadata,
		       1 - (e.embedding <=> $2) AS similarity
		FROM message_embeddings e
		JOIN messages m ON m.id = e.message_id
		JOIN user_messages um ON um.message_id = m.id
		WHERE um.user_id = $1
		ORDER BY e.embedding <=> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, userID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SimilarChunk
	for rows.Next() {
		var (
			sc         models.SimilarChunk
			senderName sql.NullString
			metaRaw    []byte
		)
		if err := rows.Scan(
			&sc.MessageID, &sc.MsgID, &sc.ChatID, &sc.FullText, &sc.Date, &senderName,
			&sc.HasMedia, &sc.ChunkText, &metaRaw, &sc.Similarity,
		); err != nil {
			return nil, err
		}
		sc.SenderName = senderName.String
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &sc.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Images

func (c *DatabaseClient) InsertMessageImage(ctx context.Context, img *models.MessageImage) error {
	if img == nil {
		return errors.New("nil image")
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO message_images (id, message_id, file_hash, url, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (file_hash) DO NOTHING
	`
	_, err := c.db.ExecContext(ctx, q, img.ID, img.MessageID, img.FileHash, img.URL)
	return err
}

func (c *DatabaseClient) ImagesByMessage(ctx context.Context, messageIDs []string) (map[string]models.MessageImage, error) {
	out := make(map[string]models.MessageImage, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	encoded, err := json.Marshal(messageIDs)
	if err != nil {
		return nil, err
	}
	const q = `
		SELECT id, message_id, file_hash, url, created_at
		FROM message_images
		WHERE message_id IN (SELECT jsonb_array_elements_text($1::jsonb)::uuid)
	`
	rows, err := c.db.QueryContext(ctx, q, string(encoded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var img models.MessageImage
		if err := rows.Scan(&img.ID, &img.MessageID, &img.FileHash, &img.URL, &img.CreatedAt); err != nil {
			return nil, err
		}
		out[img.MessageID] = img
	}
	return out, rows.Err()
}

// Index jobs

func (c *DatabaseClient) CreateIndexJob(ctx context.Context, job *models.IndexJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	chatIDs, err := json.Marshal(job.ChatIDs)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO index_jobs (id, user_id, status, chat_ids, total_messages, embedded_chunks, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`
	_, err = c.db.ExecContext(ctx, q,
		job.ID, job.UserID, job.Status, string(chatIDs), job.TotalMessages, job.EmbeddedChunks, job.Error)
	return err
}

func (c *DatabaseClient) UpdateIndexJob(ctx context.Context, job *models.IndexJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	const q = `
		UPDATE index_jobs
		SET status = $2, total_messages = $3, embedded_chunks = $4, error = $5, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, job.ID, job.Status, job.TotalMessages, job.EmbeddedChunks, job.Error)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("index job not found: %s", job.ID)
	}
	return nil
}

func (c *DatabaseClient) LatestIndexJob(ctx context.Context, userID string) (*models.IndexJob, error) {
	const q = `
		SELECT id, user_id, status, chat_ids, total_messages, embedded_chunks, COALESCE(error, ''), created_at, updated_at
		FROM index_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		job        models.IndexJob
		chatIDsRaw []byte
	)
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&job.ID, &job.UserID, &job.Status, &chatIDsRaw, &job.TotalMessages,
		&job.EmbeddedChunks, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(chatIDsRaw) > 0 {
		if err := json.Unmarshal(chatIDsRaw, &job.ChatIDs); err != nil {
			return nil, fmt.Errorf("decode chat_ids: %w", err)
		}
	}
	return &job, nil
}

// Timelines

func (c *DatabaseClient) CreateTimeline(ctx context.Context, tl *models.Timeline) error {
	if tl == nil {
		return errors.New("nil timeline")
	}
	if tl.ID == "" {
		tl.ID = uuid.NewString()
	}
	result, err := json.Marshal(tl.Result)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO timelines (id, user_id, query, result, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	_, err = c.db.ExecContext(ctx, q, tl.ID, tl.UserID, tl.Query, string(result))
	return err
}

func (c *DatabaseClient) GetTimeline(ctx context.Context, id, userID string) (*models.Timeline, error) {
	const q = `
		SELECT id, user_id, query, result, created_at
		FROM timelines
		WHERE id = $1 AND user_id = $2
	`
	var (
		tl        models.Timeline
		resultRaw []byte
	)
	err := c.db.QueryRowContext(ctx, q, id, userID).Scan(
		&tl.ID, &tl.UserID, &tl.Query, &resultRaw, &tl.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resultRaw, &tl.Result); err != nil {
		return nil, fmt.Errorf("decode timeline result: %w", err)
	}
	return &tl, nil
}
