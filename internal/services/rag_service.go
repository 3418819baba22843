package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/t2t2-app/t2t2/internal/core"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
	"github.com/t2t2-app/t2t2/internal/security"
)

// ErrEmptyQuery is returned for blank queries before any provider call.
var ErrEmptyQuery = errors.New("empty query")

// ErrInvalidTimelineQuery is returned when a timeline query fails validation.
var ErrInvalidTimelineQuery = errors.New("invalid timeline query format")

// deflectionAnswer is returned instead of calling the LLM when the raw query
// matches an injection pattern.
const deflectionAnswer = "I can help you search through your messages. " +
	"Please provide a specific question about your message history."

const maxSources = 5

// timelineSearchLimit bounds how many candidates feed a timeline.
const timelineSearchLimit = 100

// SearchStore is the slice of persistence the retrieval path needs.
type SearchStore interface {
	SearchEmbeddings(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SimilarChunk, error)
	ChatsByID(ctx context.Context, ids []int64) (map[int64]models.Chat, error)
	ImagesByMessage(ctx context.Context, messageIDs []string) (map[string]models.MessageImage, error)
	CreateTimeline(ctx context.Context, tl *models.Timeline) error
}

// SearchResult is one ranked retrieval hit.
type SearchResult struct {
	MessageID  string    `json:"message_id"`
	MsgID      int64     `json:"msg_id"`
	Text       string    `json:"text"`
	ChunkText  string    `json:"chunk_text"`
	Date       time.Time `json:"date"`
	ChatID     int64     `json:"chat_id"`
	ChatName   string    `json:"chat_name"`
	SenderName string    `json:"sender_name"`
	Similarity float64   `json:"similarity"`
	Link       string    `json:"link"`
}

// Source is one cited context item in a generated answer.
type Source struct {
	Text           string  `json:"text"`
	URL            string  `json:"url"`
	Date           string  `json:"date"`
	ChatName       string  `json:"chat_name"`
	RelevanceScore float64 `json:"relevance_score"`
	MediaURL       string  `json:"media_url,omitempty"`
}

// QueryResult is the RAG answer plus its citations. Confidence is the top-1
// similarity score, an unvalidated heuristic rather than a calibrated
// probability.
type QueryResult struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// RAGService answers natural-language queries against a single user's
// embedded message history.
type RAGService struct {
	store    SearchStore
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	log      *logger.Logger
}

func NewRAGService(store SearchStore, embedder core.EmbeddingProvider, llm core.LLMProvider, log *logger.Logger) *RAGService {
	return &RAGService{store: store, embedder: embedder, llm: llm, log: log}
}

// FindSimilar ranks the user's own chunks by similarity to the query.
// Injection patterns are logged as security events but do not block the
// search. Results are non-increasing in similarity.
func (s *RAGService) FindSimilar(ctx context.Context, userID, query string, maxResults int) ([]SearchResult, error) {
	query = security.SanitizeQuery(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if pattern := security.DetectInjection(query); pattern != "" {
		s.logSecurityEvent(userID, "prompt_injection_attempt", pattern, query)
		// Continue with search but log the attempt.
	}

	return s.search(ctx, userID, query, maxResults)
}

// search embeds the sanitized query and runs the user-scoped vector search.
func (s *RAGService) search(ctx context.Context, userID, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		// A query-embedding failure aborts this single query.
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := s.store.SearchEmbeddings(ctx, userID, vecs[0], maxResults)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chats, err := s.store.ChatsByID(ctx, chatIDsOf(candidates))
	if err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, SearchResult{
			MessageID:  c.MessageID,
			MsgID:      c.MsgID,
			Text:       c.FullText,
			ChunkText:  c.ChunkText,
			Date:       c.Date,
			ChatID:     c.ChatID,
			ChatName:   chatTitle(chats, c.ChatID),
			SenderName: c.SenderName,
			Similarity: c.Similarity,
			Link:       models.MessageLink(c.ChatID, c.MsgID),
		})
	}
	return results, nil
}

// Query runs retrieval and answer generation. A query matching an injection
// pattern short-circuits to a canned deflection with zero sources and zero
// confidence instead of reaching the LLM.
func (s *RAGService) Query(ctx context.Context, userID, query string, maxResults int, includeImages bool) (*QueryResult, error) {
	query = security.SanitizeQuery(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if pattern := security.DetectInjection(query); pattern != "" {
		s.logSecurityEvent(userID, "prompt_injection_blocked", pattern, query)
		return &QueryResult{Answer: deflectionAnswer, Sources: []Source{}, Confidence: 0}, nil
	}

	results, err := s.search(ctx, userID, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &QueryResult{
			Answer:     "I couldn't find anything relevant in your indexed messages.",
			Sources:    []Source{},
			Confidence: 0,
		}, nil
	}

	rawCtx := make([]security.RawContext, 0, len(results))
	for _, r := range results {
		rawCtx = append(rawCtx, security.RawContext{Date: r.Date, Chat: r.ChatName, Text: r.ChunkText})
	}
	prompt := security.SafePrompt(query, rawCtx)

	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", prompt.FormatContext(), prompt.Query)
	answer, err := s.llm.Generate(ctx, prompt.System, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	sources, err := s.buildSources(ctx, results, includeImages)
	if err != nil {
		return nil, err
	}

	s.log.Info("ai response generated",
		"user_id", userID,
		"query_length", len(query),
		"context_messages", len(prompt.Context),
		"response_length", len(answer))

	return &QueryResult{
		Answer:  answer,
		Sources: sources,
		// Top-1 similarity, not a calibrated probability.
		Confidence: results[0].Similarity,
	}, nil
}

func (s *RAGService) buildSources(ctx context.Context, results []SearchResult, includeImages bool) ([]Source, error) {
	top := results
	if len(top) > maxSources {
		top = top[:maxSources]
	}

	var images map[string]models.MessageImage
	if includeImages {
		ids := make([]string, 0, len(top))
		for _, r := range top {
			ids = append(ids, r.MessageID)
		}
		var err error
		images, err = s.store.ImagesByMessage(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load images: %w", err)
		}
	}

	sources := make([]Source, 0, len(top))
	for _, r := range top {
		src := Source{
			Text:           truncateRunes(r.ChunkText, 200),
			URL:            r.Link,
			Date:           r.Date.UTC().Format(time.RFC3339),
			ChatName:       r.ChatName,
			RelevanceScore: r.Similarity,
		}
		if img, ok := images[r.MessageID]; ok {
			src.MediaURL = img.URL
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// GenerateTimeline retrieves up to 100 relevant messages and groups them by
// calendar date, persisting the snapshot for later retrieval.
func (s *RAGService) GenerateTimeline(ctx context.Context, userID, query string) (*models.Timeline, error) {
	if !security.ValidateTimelineQuery(query) {
		s.logSecurityEvent(userID, "invalid_timeline_query", "", query)
		return nil, ErrInvalidTimelineQuery
	}

	results, err := s.FindSimilar(ctx, userID, query, timelineSearchLimit)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Date.Before(results[j].Date)
	})

	var entries []models.TimelineEntry
	byDate := make(map[string]int)
	for _, r := range results {
		day := r.Date.UTC().Format("2006-01-02")
		idx, ok := byDate[day]
		if !ok {
			idx = len(entries)
			byDate[day] = idx
			entries = append(entries, models.TimelineEntry{Date: day})
		}
		entries[idx].Items = append(entries[idx].Items, models.TimelineItem{
			MsgID:      r.MsgID,
			Text:       r.Text,
			Date:       r.Date,
			ChatID:     r.ChatID,
			ChatName:   r.ChatName,
			SenderName: r.SenderName,
			Link:       r.Link,
			Similarity: r.Similarity,
		})
	}

	tl := &models.Timeline{
		UserID: userID,
		Query:  security.SanitizeQuery(query),
		Result: models.TimelineResult{Entries: entries},
	}
	if err := s.store.CreateTimeline(ctx, tl); err != nil {
		return nil, fmt.Errorf("save timeline: %w", err)
	}
	return tl, nil
}

func (s *RAGService) logSecurityEvent(userID, eventType, pattern, query string) {
	s.log.Warn("security event detected",
		"user_id", userID,
		"event_type", eventType,
		"pattern", pattern,
		"query", security.Excerpt(query, 100))
}

func chatIDsOf(chunks []models.SimilarChunk) []int64 {
	seen := make(map[int64]bool, len(chunks))
	var ids []int64
	for _, c := range chunks {
		if !seen[c.ChatID] {
			seen[c.ChatID] = true
			ids = append(ids, c.ChatID)
		}
	}
	return ids
}
