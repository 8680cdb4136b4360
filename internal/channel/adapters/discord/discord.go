// Package discord adapts Discord message webhooks and the REST API.
package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/identity"
)

const (
	signatureHeader = "X-Signature-Ed25519"
	timestampHeader = "X-Signature-Timestamp"
)

type credentials struct {
	BotToken  string `json:"bot_token"`
	PublicKey string `json:"public_key"`
}

// Adapter implements channel.Adapter for Discord.
type Adapter struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*discordgo.Session
}

// NewAdapter creates a Discord adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "discord")),
		sessions: map[string]*discordgo.Session{},
	}
}

func (a *Adapter) Platform() bots.Platform { return bots.PlatformDiscord }

// Discord caps messages at 2000 characters.
func (a *Adapter) ChunkLimit() int { return 2000 }

// VerifyWebhook checks the Ed25519 signature Discord attaches to endpoint
// deliveries. Bots without a configured public key accept everything.
func (a *Adapter) VerifyWebhook(bot bots.Bot, header http.Header, body []byte) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	if creds.PublicKey == "" {
		return nil
	}
	key, err := hex.DecodeString(creds.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("discord bot %s has a malformed public_key", bot.BotKey)
	}
	sig, err := hex.DecodeString(header.Get(signatureHeader))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return channel.ErrVerificationFailed
	}
	signed := append([]byte(header.Get(timestampHeader)), body...)
	if !ed25519.Verify(ed25519.PublicKey(key), signed, sig) {
		return channel.ErrVerificationFailed
	}
	return nil
}

// ParseWebhook handles the endpoint ping and message payloads.
func (a *Adapter) ParseWebhook(bot bots.Bot, body []byte) (channel.WebhookResult, error) {
	var probe struct {
		Type    int    `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode discord payload: %w", err)
	}
	// Endpoint verification ping expects a pong echo.
	if probe.Type == 1 && probe.Content == "" {
		return channel.WebhookResult{Challenge: `{"type":1}`}, nil
	}

	var msg discordgo.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode discord message: %w", err)
	}
	if msg.Author == nil || msg.Author.Bot {
		return channel.WebhookResult{}, nil
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return channel.WebhookResult{}, nil
	}
	chatType := identity.ChatTypeGroup
	if msg.GuildID == "" {
		chatType = identity.ChatTypePrivate
	}
	return channel.WebhookResult{Message: &channel.UnifiedMessage{
		Platform:   bots.PlatformDiscord,
		BotKey:     bot.BotKey,
		ChatID:     msg.ChannelID,
		ChatType:   chatType,
		SenderID:   msg.Author.ID,
		SenderName: msg.Author.Username,
		MessageID:  msg.ID,
		Text:       text,
		Timestamp:  msg.Timestamp,
	}}, nil
}

// Send delivers one text message to a channel.
func (a *Adapter) Send(ctx context.Context, bot bots.Bot, chatID, text string) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	session, err := a.sessionFor(bot.BotKey, creds.BotToken)
	if err != nil {
		return err
	}
	if _, err := session.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *Adapter) sessionFor(botKey, token string) (*discordgo.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[botKey]; ok && s.Token == "Bot "+token {
		return s, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	a.sessions[botKey] = session
	return session, nil
}

func parseCredentials(bot bots.Bot) (credentials, error) {
	var creds credentials
	if len(bot.Credentials) > 0 {
		if err := json.Unmarshal(bot.Credentials, &creds); err != nil {
			return credentials{}, fmt.Errorf("discord credentials: %w", err)
		}
	}
	if creds.BotToken == "" {
		return credentials{}, fmt.Errorf("discord bot %s has no bot_token", bot.BotKey)
	}
	return creds, nil
}
