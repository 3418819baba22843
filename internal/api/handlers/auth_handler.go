package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/t2t2-app/t2t2/internal/config"
	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
)

type AuthHandler struct {
	store db.Store
	cfg   *config.Config
	log   *logger.Logger
}

func NewAuthHandler(store db.Store, cfg *config.Config, log *logger.Logger) *AuthHandler {
	return &AuthHandler{store: store, cfg: cfg, log: log}
}

// telegramAuthRequest is the Telegram login widget payload.
type telegramAuthRequest struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// TelegramLogin verifies a Telegram login widget payload, upserts the user
// and returns a JWT.
func (h *AuthHandler) TelegramLogin(w http.ResponseWriter, r *http.Request) {
	var req telegramAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.ID == 0 {
		http.Error(w, "missing telegram user id", http.StatusBadRequest)
		return
	}

	if h.cfg.BotToken != "" {
		if !verifyTelegramAuth(&req, h.cfg.BotToken) {
			h.log.Warn("telegram auth hash mismatch", "tg_user_id", req.ID)
			http.Error(w, "invalid telegram auth data", http.StatusUnauthorized)
			return
		}
		// The widget payload is only trustworthy for a short while.
		if time.Since(time.Unix(req.AuthDate, 0)) > 24*time.Hour {
			http.Error(w, "auth data expired", http.StatusUnauthorized)
			return
		}
	}

	user := &models.User{
		TgUserID:  req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := h.store.UpsertUser(r.Context(), user); err != nil {
		h.log.Error("upsert user failed", "error", err)
		http.Error(w, "could not create user", http.StatusInternalServerError)
		return
	}

	token, err := generateJWT(user.ID, h.cfg.JWTSecret)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// verifyTelegramAuth checks the login widget HMAC: the secret key is
// SHA256(bot token) and the data-check string is the sorted k=v list of all
// fields except hash.
func verifyTelegramAuth(req *telegramAuthRequest, botToken string) bool {
	fields := map[string]string{
		"id":        fmt.Sprintf("%d", req.ID),
		"auth_date": fmt.Sprintf("%d", req.AuthDate),
	}
	if req.Username != "" {
		fields["username"] = req.Username
	}
	if req.FirstName != "" {
		fields["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		fields["last_name"] = req.LastName
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
	checkString := strings.Join(lines, "\n")

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(req.Hash)))
}

// generateJWT creates a signed token with user ID claim
func generateJWT(userID, secret string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
