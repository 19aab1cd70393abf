package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seranking/paygate/internal/pkg/cache"
	"github.com/seranking/paygate/internal/pkg/config"
)

const (
	telegramAPIBaseURL  = "https://api.telegram.org"
	botUsernameCacheKey = "paygate:telegram_bot_username"
	botUsernameCacheTTL = time.Hour
	telegramHTTPTimeout = 10 * time.Second
)

// TelegramNotifier is the messaging-platform boundary used by the access and
// payment services.
type TelegramNotifier interface {
	// BuildDeepLink returns the bot launch URL for a token, or "" when the
	// bot identity cannot be resolved. Callers treat "" as "activation link
	// unavailable", never as an error.
	BuildDeepLink(token string) string
	// SendActivationMessage delivers the activation link to a chat,
	// best-effort.
	SendActivationMessage(chatID, token string) bool
}

// TelegramSender talks to the Telegram Bot API. The bot username comes from
// config when set; otherwise it is resolved once via getMe and cached.
type TelegramSender struct {
	botToken   string
	apiBaseURL string
	httpClient *http.Client

	mu               sync.Mutex
	botUsername      string
	resolveAttempted bool
}

func NewTelegramSender(cfg *config.Config) *TelegramSender {
	return &TelegramSender{
		botToken:    cfg.TelegramBotToken,
		apiBaseURL:  telegramAPIBaseURL,
		botUsername: NormalizeBotUsername(cfg.TelegramBotUsername),
		httpClient:  &http.Client{Timeout: telegramHTTPTimeout},
	}
}

// NormalizeBotUsername accepts a bare username, an @-prefixed one, or a full
// t.me URL and reduces it to the bare bot username.
func NormalizeBotUsername(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if parsed, err := url.Parse(value); err == nil {
			value = strings.Trim(parsed.Path, "/")
		}
	}
	value = strings.TrimPrefix(value, "@")
	if idx := strings.Index(value, "/"); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func (t *TelegramSender) BuildDeepLink(token string) string {
	username := t.resolveBotUsername()
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", username, token)
}

func (t *TelegramSender) SendActivationMessage(chatID, token string) bool {
	if t.botToken == "" {
		log.Printf("telegram_send_skipped_missing_bot_token chat_id=%s", chatID)
		return false
	}
	deepLink := t.BuildDeepLink(token)
	if deepLink == "" {
		log.Printf("telegram_send_skipped_missing_bot_username chat_id=%s", chatID)
		return false
	}

	payload, _ := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    "Оплата подтверждена. Активируй доступ: " + deepLink,
	})
	resp, err := t.httpClient.Post(
		fmt.Sprintf("%s/bot%s/sendMessage", t.apiBaseURL, t.botToken),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		log.Printf("telegram_send_failed chat_id=%s error=%v", chatID, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		log.Printf("telegram_send_failed chat_id=%s status_code=%d body=%s",
			chatID, resp.StatusCode, strings.ReplaceAll(string(body), "\n", " "))
		return false
	}
	return true
}

func (t *TelegramSender) resolveBotUsername() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.botUsername != "" {
		return t.botUsername
	}
	if t.botToken == "" || t.resolveAttempted {
		return ""
	}

	if cached, err := cache.Get(botUsernameCacheKey); err == nil && cached != "" {
		t.botUsername = cached
		return t.botUsername
	}

	t.resolveAttempted = true
	resp, err := t.httpClient.Get(fmt.Sprintf("%s/bot%s/getMe", t.apiBaseURL, t.botToken))
	if err != nil {
		log.Printf("telegram_bot_username_resolve_failed error=%v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Printf("telegram_bot_username_resolve_failed status_code=%d", resp.StatusCode)
		return ""
	}

	var payload struct {
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("telegram_bot_username_resolve_failed error=%v", err)
		return ""
	}
	username := NormalizeBotUsername(payload.Result.Username)
	if username == "" {
		return ""
	}
	t.botUsername = username
	if err := cache.Set(botUsernameCacheKey, username, botUsernameCacheTTL); err != nil {
		log.Printf("telegram_bot_username_cache_failed error=%v", err)
	}
	log.Printf("telegram_bot_username_resolved bot_username=%s", username)
	return username
}
