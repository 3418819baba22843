package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
	"github.com/t2t2-app/t2t2/internal/services"
)

type fakeTelegramAPI struct {
	updates chan tgbotapi.Update
	sent    chan tgbotapi.MessageConfig
}

func newFakeTelegramAPI() *fakeTelegramAPI {
	return &fakeTelegramAPI{
		updates: make(chan tgbotapi.Update, 4),
		sent:    make(chan tgbotapi.MessageConfig, 4),
	}
}

func (f *fakeTelegramAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegramAPI) StopReceivingUpdates() {}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent <- msg
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegramAPI) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "t2t2_test_bot"}
}

type fakeBotStore struct {
	db.Store
	users map[int64]*models.User
}

func (f *fakeBotStore) GetUserByTgID(_ context.Context, tgUserID int64) (*models.User, error) {
	user, ok := f.users[tgUserID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return user, nil
}

func commandUpdate(tgUserID int64, text string) tgbotapi.Update {
	entity := tgbotapi.MessageEntity{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: tgUserID},
			Chat:      &tgbotapi.Chat{ID: 42},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{entity},
		},
	}
}

func waitReply(t *testing.T, api *fakeTelegramAPI) tgbotapi.MessageConfig {
	t.Helper()
	select {
	case msg := <-api.sent:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply sent")
		return tgbotapi.MessageConfig{}
	}
}

func runBot(t *testing.T, b *Bot) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	return cancel
}

func TestBot_RejectsUnknownUser(t *testing.T) {
	api := newFakeTelegramAPI()
	store := &fakeBotStore{users: map[int64]*models.User{}}
	b := NewWithAPI(api, store, nil, nil, logger.Nop())

	cancel := runBot(t, b)
	defer cancel()

	api.updates <- commandUpdate(999, "/status")

	reply := waitReply(t, api)
	if !strings.Contains(reply.Text, "not registered") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if reply.ChatID != 42 {
		t.Fatalf("reply sent to wrong chat: %d", reply.ChatID)
	}
}

func TestBot_HelpCommand(t *testing.T) {
	api := newFakeTelegramAPI()
	store := &fakeBotStore{users: map[int64]*models.User{
		777: {ID: "user-1", TgUserID: 777},
	}}
	b := NewWithAPI(api, store, nil, nil, logger.Nop())

	cancel := runBot(t, b)
	defer cancel()

	api.updates <- commandUpdate(777, "/help")

	reply := waitReply(t, api)
	for _, cmd := range []string{"/ask", "/search", "/status"} {
		if !strings.Contains(reply.Text, cmd) {
			t.Fatalf("help must mention %s: %q", cmd, reply.Text)
		}
	}
}

func TestBot_AskRequiresArgument(t *testing.T) {
	api := newFakeTelegramAPI()
	store := &fakeBotStore{users: map[int64]*models.User{
		777: {ID: "user-1", TgUserID: 777},
	}}
	b := NewWithAPI(api, store, &services.RAGService{}, nil, logger.Nop())

	cancel := runBot(t, b)
	defer cancel()

	api.updates <- commandUpdate(777, "/ask")

	reply := waitReply(t, api)
	if !strings.Contains(reply.Text, "Usage: /ask") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestBot_IgnoresSenderlessCommands(t *testing.T) {
	api := newFakeTelegramAPI()
	store := &fakeBotStore{users: map[int64]*models.User{}}
	b := NewWithAPI(api, store, nil, nil, logger.Nop())

	cancel := runBot(t, b)
	defer cancel()

	// Channel posts relayed into a chat have From == nil.
	entity := tgbotapi.MessageEntity{Type: "bot_command", Offset: 0, Length: len("/status")}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "/status",
		Entities:  []tgbotapi.MessageEntity{entity},
	}}

	select {
	case msg := <-api.sent:
		t.Fatalf("unexpected reply: %q", msg.Text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBot_IgnoresNonCommands(t *testing.T) {
	api := newFakeTelegramAPI()
	store := &fakeBotStore{users: map[int64]*models.User{}}
	b := NewWithAPI(api, store, nil, nil, logger.Nop())

	cancel := runBot(t, b)
	defer cancel()

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 1},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "plain text",
	}}

	select {
	case msg := <-api.sent:
		t.Fatalf("unexpected reply: %q", msg.Text)
	case <-time.After(200 * time.Millisecond):
	}
}
