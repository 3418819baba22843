package services

import (
	"strings"
	"testing"
	"time"

	"github.com/t2t2-app/t2t2/internal/models"
)

var testChats = map[int64]models.Chat{
	100: {ID: 100, Title: "Dev Chat", Type: "group"},
}

func msgAt(id int64, sender int64, senderName, text string, offset time.Duration) models.Message {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return models.Message{
		ID:         "m-" + senderName,
		ChatID:     100,
		MsgID:      id,
		SenderID:   sender,
		SenderName: senderName,
		Text:       text,
		Date:       base.Add(offset),
	}
}

func TestGroupMessagesForChunking_GroupsSameSenderBurst(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "working on the deploy", 0),
		msgAt(2, 1, "alice", "almost done", 30*time.Second),
		msgAt(3, 1, "alice", "pushed to staging", 60*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	ch := chunks[0]
	want := "working on the deploy almost done pushed to staging"
	if ch.Text != want {
		t.Fatalf("unexpected chunk text: %q", ch.Text)
	}
	if !ch.Metadata.IsGrouped {
		t.Fatalf("expected grouped metadata: %+v", ch.Metadata)
	}
	if ch.Metadata.MessageCount != 3 || len(ch.Metadata.MsgIDs) != 3 {
		t.Fatalf("unexpected group bookkeeping: %+v", ch.Metadata)
	}
	if ch.Metadata.TimeSpanSeconds != 60 {
		t.Fatalf("expected 60s span, got %v", ch.Metadata.TimeSpanSeconds)
	}
	if ch.Metadata.ChatName != "Dev Chat" {
		t.Fatalf("chat title not resolved: %q", ch.Metadata.ChatName)
	}
}

func TestGroupMessagesForChunking_BreaksOnSenderChange(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "first thought", 0),
		msgAt(2, 2, "bob", "different person", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Metadata.SenderID != 1 || chunks[1].Metadata.SenderID != 2 {
		t.Fatalf("sender mix-up: %+v / %+v", chunks[0].Metadata, chunks[1].Metadata)
	}
}

func TestGroupMessagesForChunking_BreaksOnTimeGap(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "before the gap", 0),
		msgAt(2, 1, "alice", "after the gap", 121*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 2 {
		t.Fatalf("expected gap to split chunks, got %d", len(chunks))
	}
}

func TestGroupMessagesForChunking_KeepsWithinTimeGap(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "before", 0),
		msgAt(2, 1, "alice", "exactly at window", 120*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 1 {
		t.Fatalf("gap equal to window must not split, got %d chunks", len(chunks))
	}
}

func TestGroupMessagesForChunking_RepliesStandAlone(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	replyTo := int64(1)
	reply := msgAt(2, 1, "alice", "this is a fairly long reply that stands on its own merits", 10*time.Second)
	reply.ReplyToMsgID = &replyTo

	msgs := []models.Message{
		msgAt(1, 1, "alice", "original message", 0),
		reply,
		msgAt(3, 1, "alice", "and a follow-up", 20*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 3 {
		t.Fatalf("expected reply to split into 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Metadata.IsGrouped {
		t.Fatalf("reply chunk must be standalone: %+v", chunks[1].Metadata)
	}
	if chunks[1].Metadata.ReplyToMsgID == nil || *chunks[1].Metadata.ReplyToMsgID != replyTo {
		t.Fatalf("reply metadata missing: %+v", chunks[1].Metadata)
	}
	if chunks[1].Metadata.ReplyToText != "original message" {
		t.Fatalf("replied text not resolved: %+v", chunks[1].Metadata)
	}
}

func TestGroupMessagesForChunking_ShortReplyRewritesContext(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	replyTo := int64(1)
	reply := msgAt(2, 2, "bob", "yes", 10*time.Second)
	reply.ReplyToMsgID = &replyTo

	msgs := []models.Message{
		msgAt(1, 1, "alice", "did the migration finish?", 0),
		reply,
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	want := "bob replied 'yes' to 'did the migration finish?'"
	if chunks[1].Text != want {
		t.Fatalf("reply rewrite mismatch:\n got %q\nwant %q", chunks[1].Text, want)
	}
}

func TestGroupMessagesForChunking_LongReplyKeptVerbatim(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	replyTo := int64(1)
	longText := strings.Repeat("detail ", 10) // 70 chars, past the short threshold
	reply := msgAt(2, 2, "bob", longText, 10*time.Second)
	reply.ReplyToMsgID = &replyTo

	msgs := []models.Message{
		msgAt(1, 1, "alice", "what happened?", 0),
		reply,
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if chunks[1].Text != longText {
		t.Fatalf("long reply must not be rewritten: %q", chunks[1].Text)
	}
}

func TestGroupMessagesForChunking_OversizedMessageStandsAlone(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	big := msgAt(2, 1, "alice", strings.Repeat("x", 401), 10*time.Second)
	msgs := []models.Message{
		msgAt(1, 1, "alice", "small one", 0),
		big,
		msgAt(3, 1, "alice", "another small one", 20*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 3 {
		t.Fatalf("expected oversized message isolated, got %d chunks", len(chunks))
	}
	if chunks[1].Metadata.IsGrouped {
		t.Fatalf("oversized chunk must be standalone")
	}
	if len(chunks[1].Text) != 401 {
		t.Fatalf("oversized text must be kept whole, got %d chars", len(chunks[1].Text))
	}
}

func TestGroupMessagesForChunking_SizeBudgetSplitsGroup(t *testing.T) {
	c := NewSmartChunker(ChunkingConfig{MaxChunkSize: 30})

	msgs := []models.Message{
		msgAt(1, 1, "alice", "twelve chars", 0),
		msgAt(2, 1, "alice", "twelve chars", 5*time.Second),
		msgAt(3, 1, "alice", "twelve chars", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	// 12 + 12 + padding exceeds 30, so every message lands alone.
	if len(chunks) != 3 {
		t.Fatalf("expected budget to split all, got %d chunks", len(chunks))
	}
}

func TestGroupMessagesForChunking_QuestionAndAnswerTagging(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "is the build green?  ", 0),
		msgAt(2, 2, "bob", "yes", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !chunks[0].Metadata.IsQuestion {
		t.Fatalf("trailing '?' must tag a question: %+v", chunks[0].Metadata)
	}
	if !chunks[1].Metadata.IsAnswer {
		t.Fatalf("vocabulary word must tag an answer: %+v", chunks[1].Metadata)
	}
}

func TestGroupMessagesForChunking_LikelyResponseLink(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "is it raining?", 0),
		msgAt(2, 2, "bob", "yes", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	ref := chunks[1].Metadata.LikelyResponseTo
	if ref == nil {
		t.Fatalf("expected likely-response link: %+v", chunks[1].Metadata)
	}
	if ref.MsgID != 1 || ref.Sender != "alice" {
		t.Fatalf("linked wrong question: %+v", ref)
	}
	if ref.TimeDiffSeconds != 10 {
		t.Fatalf("expected 10s diff, got %v", ref.TimeDiffSeconds)
	}
}

func TestGroupMessagesForChunking_NearestQuestionWins(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "first question?", 0),
		msgAt(2, 3, "carol", "second question?", 5*time.Second),
		msgAt(3, 2, "bob", "yes", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	ref := chunks[2].Metadata.LikelyResponseTo
	if ref == nil || ref.MsgID != 2 {
		t.Fatalf("nearest question must win: %+v", ref)
	}
}

func TestGroupMessagesForChunking_NoLinkOutsideWindow(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "old question?", 0),
		msgAt(2, 2, "bob", "yes", 31*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if chunks[1].Metadata.LikelyResponseTo != nil {
		t.Fatalf("question outside response window must not link")
	}
}

func TestGroupMessagesForChunking_NoLinkToOwnQuestion(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 2, "bob", "should I restart it?", 0),
		msgAt(2, 2, "bob", "yes", 10*time.Second),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	// One grouped chunk: same sender, no reply, within window.
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Metadata.LikelyResponseTo != nil {
		t.Fatalf("must not link a sender to their own question")
	}
}

func TestGroupMessagesForChunking_SortsUnorderedInput(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(2, 1, "alice", "second", 30*time.Second),
		msgAt(1, 1, "alice", "first", 0),
	}

	chunks := c.GroupMessagesForChunking(msgs, testChats)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "first second" {
		t.Fatalf("messages not re-ordered: %q", chunks[0].Text)
	}
}

func TestGroupMessagesForChunking_EmptyInput(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())
	chunks := c.GroupMessagesForChunking(nil, testChats)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestGroupMessagesForChunking_Deterministic(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{
		msgAt(1, 1, "alice", "is it raining?", 0),
		msgAt(2, 2, "bob", "yes", 10*time.Second),
		msgAt(3, 1, "alice", "ok great", 20*time.Second),
	}

	first := c.GroupMessagesForChunking(msgs, testChats)
	second := c.GroupMessagesForChunking(msgs, testChats)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Fatalf("chunk %d differs: %q vs %q", i, first[i].Text, second[i].Text)
		}
	}
}

func TestGroupMessagesForChunking_UnknownChatTitle(t *testing.T) {
	c := NewSmartChunker(DefaultChunkingConfig())

	msgs := []models.Message{msgAt(1, 1, "alice", "hello", 0)}
	chunks := c.GroupMessagesForChunking(msgs, map[int64]models.Chat{})
	if chunks[0].Metadata.ChatName != "Unknown" {
		t.Fatalf("missing chat must resolve to Unknown, got %q", chunks[0].Metadata.ChatName)
	}
}
