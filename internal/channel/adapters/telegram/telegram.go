// Package telegram adapts Telegram bot webhooks and the Bot API.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/identity"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type credentials struct {
	BotToken      string `json:"bot_token"`
	WebhookSecret string `json:"webhook_secret"`
}

// Adapter implements channel.Adapter for Telegram.
type Adapter struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*tgbotapi.BotAPI
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "telegram")),
		clients: map[string]*tgbotapi.BotAPI{},
	}
}

func (a *Adapter) Platform() bots.Platform { return bots.PlatformTelegram }

// Telegram caps messages at 4096 UTF-8 characters.
func (a *Adapter) ChunkLimit() int { return 4096 }

// VerifyWebhook checks the secret token Telegram echoes back when the
// webhook was registered with one. Bots without a secret accept everything.
func (a *Adapter) VerifyWebhook(bot bots.Bot, header http.Header, _ []byte) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return nil
	}
	got := header.Get(secretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(creds.WebhookSecret)) != 1 {
		return channel.ErrVerificationFailed
	}
	return nil
}

// ParseWebhook extracts the message from a Telegram update.
func (a *Adapter) ParseWebhook(bot bots.Bot, body []byte) (channel.WebhookResult, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.WebhookResult{}, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return channel.WebhookResult{}, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return channel.WebhookResult{}, nil
	}
	senderID := ""
	senderName := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		senderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if senderName == "" {
			senderName = msg.From.UserName
		}
	}
	return channel.WebhookResult{Message: &channel.UnifiedMessage{
		Platform:   bots.PlatformTelegram,
		BotKey:     bot.BotKey,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		ChatType:   identity.ParseChatType(msg.Chat.Type),
		SenderID:   senderID,
		SenderName: senderName,
		MessageID:  strconv.Itoa(msg.MessageID),
		Text:       text,
		Timestamp:  time.Unix(int64(msg.Date), 0).UTC(),
	}}, nil
}

// Send delivers one text message to a chat.
func (a *Adapter) Send(ctx context.Context, bot bots.Bot, chatID, text string) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	client, err := a.clientFor(bot.BotKey, creds.BotToken)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := client.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// clientFor caches BotAPI clients per bot; creating one performs a getMe
// round trip, too expensive to repeat per message.
func (a *Adapter) clientFor(botKey, token string) (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[botKey]; ok && c.Token == token {
		return c, nil
	}
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	a.clients[botKey] = client
	return client, nil
}

func parseCredentials(bot bots.Bot) (credentials, error) {
	var creds credentials
	if len(bot.Credentials) > 0 {
		if err := json.Unmarshal(bot.Credentials, &creds); err != nil {
			return credentials{}, fmt.Errorf("telegram credentials: %w", err)
		}
	}
	if creds.BotToken == "" {
		return credentials{}, fmt.Errorf("telegram bot %s has no bot_token", bot.BotKey)
	}
	return creds, nil
}
