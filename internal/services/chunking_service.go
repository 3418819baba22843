// Package services holds the message chunking, embedding, retrieval and
// indexing pipeline.
package services

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/t2t2-app/t2t2/internal/models"
)

// Chunking defaults. A grouped chunk never mixes senders, never spans more
// than GroupWindow between adjacent messages, and never exceeds MaxChunkSize
// characters (with padding per joined message).
const (
	DefaultMaxChunkSize   = 400
	DefaultGroupWindow    = 120 * time.Second
	DefaultResponseWindow = 30 * time.Second

	// Messages shorter than this are candidates for answer tagging and
	// reply-context rewriting.
	shortMessageLen = 50

	// Padding budgeted per message joined into a group.
	joinPadding = 10
)

// answerVocabulary tags terse confirmations/negations as answers.
var answerVocabulary = map[string]bool{
	"yes":       true,
	"no":        true,
	"yeah":      true,
	"nope":      true,
	"yep":       true,
	"done":      true,
	"fixed":     true,
	"completed": true,
	"not yet":   true,
	"will do":   true,
}

// ChunkRecord is one unit of text to be embedded, with the conversational
// context needed at retrieval time.
type ChunkRecord struct {
	Text     string
	Metadata models.ChunkMetadata
	Messages []models.Message
}

// ChunkingConfig tunes the grouping heuristics.
type ChunkingConfig struct {
	MaxChunkSize   int
	GroupWindow    time.Duration
	ResponseWindow time.Duration
}

func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		MaxChunkSize:   DefaultMaxChunkSize,
		GroupWindow:    DefaultGroupWindow,
		ResponseWindow: DefaultResponseWindow,
	}
}

// SmartChunker groups raw chat messages into semantically coherent chunks:
// bursts from one sender are merged, replies and oversized messages stand
// alone, and short answers get linked back to their likely question.
type SmartChunker struct {
	cfg ChunkingConfig
}

func NewSmartChunker(cfg ChunkingConfig) *SmartChunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.GroupWindow <= 0 {
		cfg.GroupWindow = DefaultGroupWindow
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = DefaultResponseWindow
	}
	return &SmartChunker{cfg: cfg}
}

// GroupMessagesForChunking walks the messages in timestamp order and emits
// chunks in the same temporal order. Chat titles are resolved from the given
// map; unknown chats fall back to "Unknown". Output is fully deterministic
// for identical input and configuration.
func (c *SmartChunker) GroupMessagesForChunking(messages []models.Message, chats map[int64]models.Chat) []ChunkRecord {
	if len(messages) == 0 {
		return []ChunkRecord{}
	}

	// Sorting is an explicit first step, not an assumed precondition.
	sorted := make([]models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var (
		chunks           []ChunkRecord
		currentGroup     []models.Message
		currentGroupText string
	)

	flushGroup := func() {
		if len(currentGroup) == 0 {
			return
		}
		// A group of one is just a message; only real bursts get the
		// grouped treatment.
		if len(currentGroup) == 1 {
			chunks = append(chunks, c.chunkFromMessage(currentGroup[0], chats, sorted))
		} else {
			chunks = append(chunks, c.chunkFromGroup(currentGroup, chats, sorted))
		}
		currentGroup = nil
		currentGroupText = ""
	}

	for _, msg := range sorted {
		if len(currentGroup) > 0 {
			last := currentGroup[len(currentGroup)-1]
			shouldBreak := msg.SenderID != last.SenderID ||
				msg.Date.Sub(last.Date) > c.cfg.GroupWindow ||
				msg.ReplyToMsgID != nil ||
				utf8.RuneCountInString(currentGroupText)+utf8.RuneCountInString(msg.Text)+joinPadding > c.cfg.MaxChunkSize
			if shouldBreak {
				flushGroup()
			}
		}

		// Replies and oversized messages always stand alone.
		if msg.ReplyToMsgID != nil || utf8.RuneCountInString(msg.Text) > c.cfg.MaxChunkSize {
			flushGroup()
			chunks = append(chunks, c.chunkFromMessage(msg, chats, sorted))
			continue
		}

		currentGroup = append(currentGroup, msg)
		if currentGroupText != "" {
			currentGroupText += " "
		}
		currentGroupText += msg.Text
	}

	flushGroup()
	return chunks
}

func chatTitle(chats map[int64]models.Chat, chatID int64) string {
	if ch, ok := chats[chatID]; ok && ch.Title != "" {
		return ch.Title
	}
	return "Unknown"
}

func (c *SmartChunker) chunkFromGroup(group []models.Message, chats map[int64]models.Chat, all []models.Message) ChunkRecord {
	first := group[0]
	last := group[len(group)-1]

	texts := make([]string, 0, len(group))
	msgIDs := make([]int64, 0, len(group))
	links := make([]string, 0, len(group))
	for _, m := range group {
		texts = append(texts, m.Text)
		msgIDs = append(msgIDs, m.MsgID)
		links = append(links, m.Link())
	}

	meta := models.ChunkMetadata{
		Timestamp:       first.Date,
		ChatName:        chatTitle(chats, first.ChatID),
		ChatID:          first.ChatID,
		SenderName:      first.SenderName,
		SenderID:        first.SenderID,
		IsGrouped:       true,
		MsgIDs:          msgIDs,
		MessageLinks:    links,
		MessageCount:    len(group),
		TimeSpanSeconds: last.Date.Sub(first.Date).Seconds(),
	}

	if ref := c.findLikelyQuestion(first, all); ref != nil {
		meta.LikelyResponseTo = ref
	}

	msgs := make([]models.Message, len(group))
	copy(msgs, group)

	return ChunkRecord{
		Text:     strings.Join(texts, " "),
		Metadata: meta,
		Messages: msgs,
	}
}

func (c *SmartChunker) chunkFromMessage(msg models.Message, chats map[int64]models.Chat, all []models.Message) ChunkRecord {
	chunkText := msg.Text

	meta := models.ChunkMetadata{
		Timestamp:   msg.Date,
		ChatName:    chatTitle(chats, msg.ChatID),
		ChatID:      msg.ChatID,
		SenderName:  msg.SenderName,
		SenderID:    msg.SenderID,
		IsGrouped:   false,
		MsgID:       msg.MsgID,
		MessageLink: msg.Link(),
	}

	if msg.ReplyToMsgID != nil {
		meta.ReplyToMsgID = msg.ReplyToMsgID

		if replied := findMessage(all, msg.ChatID, *msg.ReplyToMsgID); replied != nil {
			meta.ReplyToText = replied.Text
			meta.ReplyToSender = replied.SenderName

			// Terse replies lose meaning without the question; embed it
			// explicitly so "yes" becomes retrievable.
			if utf8.RuneCountInString(chunkText) < shortMessageLen && replied.Text != "" {
				chunkText = msg.SenderName + " replied '" + chunkText + "' to '" + truncateRunes(replied.Text, 100) + "'"
			}
		}
	} else if utf8.RuneCountInString(chunkText) < shortMessageLen {
		// Short message, might be an answer to a recent question.
		if ref := c.findLikelyQuestion(msg, all); ref != nil {
			meta.LikelyResponseTo = ref
		}
	}

	if strings.HasSuffix(strings.TrimSpace(chunkText), "?") {
		meta.IsQuestion = true
	} else if utf8.RuneCountInString(chunkText) < shortMessageLen && answerVocabulary[strings.ToLower(chunkText)] {
		meta.IsAnswer = true
	}

	return ChunkRecord{
		Text:     chunkText,
		Metadata: meta,
		Messages: []models.Message{msg},
	}
}

// findLikelyQuestion scans backward through the time-ordered message list for
// the most recent question from a different sender within the response
// window. The nearest qualifying question wins.
func (c *SmartChunker) findLikelyQuestion(msg models.Message, all []models.Message) *models.ResponseRef {
	cutoff := msg.Date.Add(-c.cfg.ResponseWindow)

	for i := len(all) - 1; i >= 0; i-- {
		prev := all[i]
		if prev.Date.Before(cutoff) {
			break
		}
		if prev.Date.Before(msg.Date) &&
			prev.SenderID != msg.SenderID &&
			prev.Text != "" &&
			strings.HasSuffix(strings.TrimSpace(prev.Text), "?") {
			return &models.ResponseRef{
				MsgID:           prev.MsgID,
				Text:            truncateRunes(prev.Text, 100),
				Sender:          prev.SenderName,
				TimeDiffSeconds: msg.Date.Sub(prev.Date).Seconds(),
			}
		}
	}
	return nil
}

func findMessage(all []models.Message, chatID, msgID int64) *models.Message {
	for i := range all {
		if all[i].MsgID == msgID && all[i].ChatID == chatID {
			return &all[i]
		}
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
