package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/t2t2-app/t2t2/internal/config"
	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
)

type fakeUserStore struct {
	db.Store
	upserted *models.User
}

func (f *fakeUserStore) UpsertUser(_ context.Context, user *models.User) error {
	user.ID = "user-uuid-1"
	f.upserted = user
	return nil
}

const testBotToken = "12345:test-bot-token"

func signTelegramPayload(req map[string]any, botToken string) string {
	fields := map[string]string{}
	for k, v := range req {
		if k == "hash" {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				fields[k] = val
			}
		case int64:
			fields[k] = fmt.Sprintf("%d", val)
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func authFixture() (*AuthHandler, *fakeUserStore) {
	store := &fakeUserStore{}
	cfg := &config.Config{JWTSecret: "test-secret", BotToken: testBotToken}
	return NewAuthHandler(store, cfg, logger.Nop()), store
}

func postLogin(t *testing.T, h *AuthHandler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/telegram", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.TelegramLogin(rec, req)
	return rec
}

func TestTelegramLogin_ValidPayload(t *testing.T) {
	h, store := authFixture()

	payload := map[string]any{
		"id":         int64(777),
		"username":   "alice",
		"first_name": "Alice",
		"auth_date":  time.Now().Unix(),
	}
	payload["hash"] = signTelegramPayload(payload, testBotToken)

	rec := postLogin(t, h, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(resp["token"], claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	if claims["user_id"] != "user-uuid-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if store.upserted == nil || store.upserted.TgUserID != 777 {
		t.Fatalf("user not upserted: %+v", store.upserted)
	}
}

func TestTelegramLogin_InvalidHash(t *testing.T) {
	h, _ := authFixture()

	payload := map[string]any{
		"id":        int64(777),
		"auth_date": time.Now().Unix(),
		"hash":      "deadbeef",
	}

	rec := postLogin(t, h, payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTelegramLogin_ExpiredAuthDate(t *testing.T) {
	h, _ := authFixture()

	payload := map[string]any{
		"id":        int64(777),
		"auth_date": time.Now().Add(-25 * time.Hour).Unix(),
	}
	payload["hash"] = signTelegramPayload(payload, testBotToken)

	rec := postLogin(t, h, payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTelegramLogin_MissingID(t *testing.T) {
	h, _ := authFixture()

	rec := postLogin(t, h, map[string]any{"auth_date": time.Now().Unix()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
