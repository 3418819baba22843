package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

// maxBotResults bounds how many hits a /search reply lists.
const maxBotResults = 5

// TelegramBot is the slice of the bot API the command loop uses. Tests
// substitute a fake.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User { return w.bot.Self }

// Bot answers /ask, /search and /status commands in direct chats. Only
// users who have authenticated through the web flow can use it; the
// Telegram account id is the lookup key.
type Bot struct {
	api      TelegramBot
	store    db.Store
	rag      *services.RAGService
	indexing *services.IndexingService
	log      *logger.Logger
}

func New(token string, store db.Store, rag *services.RAGService, indexing *services.IndexingService, log *logger.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewWithAPI(&tgBotWrapper{bot: api}, store, rag, indexing, log), nil
}

// NewWithAPI wires a pre-built bot API, used by tests.
func NewWithAPI(api TelegramBot, store db.Store, rag *services.RAGService, indexing *services.IndexingService, log *logger.Logger) *Bot {
	return &Bot{api: api, store: store, rag: rag, indexing: indexing, log: log}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("telegram bot polling", "username", b.api.GetSelf().UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	// Channel posts and anonymous admins carry no sender.
	if msg.From == nil {
		return
	}
	user, err := b.store.GetUserByTgID(ctx, msg.From.ID)
	if err != nil {
		b.reply(msg.Chat.ID, "You are not registered yet. Sign in on the web app first.")
		return
	}

	switch msg.Command() {
	case "ask":
		b.handleAsk(ctx, msg, user.ID)
	case "search":
		b.handleSearch(ctx, msg, user.ID)
	case "status":
		b.handleStatus(ctx, msg, user.ID)
	case "start", "help":
		b.reply(msg.Chat.ID, helpText)
	default:
		b.reply(msg.Chat.ID, "Unknown command. "+helpText)
	}
}

const helpText = "Commands:\n" +
	"/ask <question> - answer a question from your indexed history\n" +
	"/search <query> - list the most similar messages\n" +
	"/status - show indexing progress"

func (b *Bot) handleAsk(ctx context.Context, msg *tgbotapi.Message, userID string) {
	query := strings.TrimSpace(msg.CommandArguments())
	if query == "" {
		b.reply(msg.Chat.ID, "Usage: /ask <question>")
		return
	}

	result, err := b.rag.Query(ctx, userID, query, 0, false)
	if err != nil {
		b.log.Error("bot ask failed", "user_id", userID, "error", err)
		b.reply(msg.Chat.ID, "Sorry, I couldn't answer that right now.")
		return
	}

	var sb strings.Builder
	sb.WriteString(result.Answer)
	if len(result.Sources) > 0 {
		sb.WriteString("\n\nSources:")
		for _, src := range result.Sources {
			sb.WriteString(fmt.Sprintf("\n- %s (%s) %s", src.ChatName, src.Date, src.URL))
		}
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleSearch(ctx context.Context, msg *tgbotapi.Message, userID string) {
	query := strings.TrimSpace(msg.CommandArguments())
	if query == "" {
		b.reply(msg.Chat.ID, "Usage: /search <query>")
		return
	}

	results, err := b.rag.FindSimilar(ctx, userID, query, maxBotResults)
	if err != nil {
		b.log.Error("bot search failed", "user_id", userID, "error", err)
		b.reply(msg.Chat.ID, "Search failed, try again later.")
		return
	}
	if len(results) == 0 {
		b.reply(msg.Chat.ID, "No matching messages found.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Top matches:")
	for _, res := range results {
		sb.WriteString(fmt.Sprintf("\n- [%s] %s: %s (%.2f)\n  %s",
			res.Date.Format("2006-01-02"), res.SenderName, truncate(res.Text, 80), res.Similarity, res.Link))
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message, userID string) {
	status, err := b.indexing.Status(ctx, userID)
	if err != nil {
		b.log.Error("bot status failed", "user_id", userID, "error", err)
		b.reply(msg.Chat.ID, "Couldn't fetch indexing status.")
		return
	}

	switch status.Status {
	case "running", "pending":
		b.reply(msg.Chat.ID, fmt.Sprintf("Indexing %s: %d/%d chunks (%.0f%%)",
			status.Status, status.ProcessedChunks, status.TotalChunks, status.Progress*100))
	case "failed":
		b.reply(msg.Chat.ID, "Last indexing run failed: "+status.Error)
	case "completed":
		b.reply(msg.Chat.ID, fmt.Sprintf("Indexing complete: %d chunks embedded.", status.EmbeddedChunks))
	default:
		b.reply(msg.Chat.ID, "No indexing run yet. Start one from the web app.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	reply := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
