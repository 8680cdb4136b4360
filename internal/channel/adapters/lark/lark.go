// Package lark adapts Lark (Feishu) event subscriptions and the IM API.
package lark

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

	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/identity"
)

type credentials struct {
	AppID             string `json:"app_id"`
	AppSecret         string `json:"app_secret"`
	VerificationToken string `json:"verification_token"`
}

// eventEnvelope is the schema-2.0 event subscription payload.
type eventEnvelope struct {
	Schema    string `json:"schema"`
	Challenge string `json:"challenge"`
	Type      string `json:"type"`
	Token     string `json:"token"`
	Header    struct {
		EventType  string `json:"event_type"`
		Token      string `json:"token"`
		CreateTime string `json:"create_time"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderType string `json:"sender_type"`
			SenderID   struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			ChatType    string `json:"chat_type"`
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"message"`
	} `json:"event"`
}

// Adapter implements channel.Adapter for Lark.
type Adapter struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*larksdk.Client
}

// NewAdapter creates a Lark adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "lark")),
		clients: map[string]*larksdk.Client{},
	}
}

func (a *Adapter) Platform() bots.Platform { return bots.PlatformLark }

// Lark rejects text payloads past roughly 150KB; 4000 runes keeps messages
// readable long before that limit matters.
func (a *Adapter) ChunkLimit() int { return 4000 }

// VerifyWebhook checks the verification token embedded in every event.
func (a *Adapter) VerifyWebhook(bot bots.Bot, _ http.Header, body []byte) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	if creds.VerificationToken == "" {
		return nil
	}
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode lark event: %w", err)
	}
	token := envelope.Header.Token
	if token == "" {
		token = envelope.Token
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(creds.VerificationToken)) != 1 {
		return channel.ErrVerificationFailed
	}
	return nil
}

// ParseWebhook handles URL verification and im.message.receive_v1 events.
func (a *Adapter) ParseWebhook(bot bots.Bot, body []byte) (channel.WebhookResult, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode lark event: %w", err)
	}
	if envelope.Type == "url_verification" {
		reply, _ := json.Marshal(map[string]string{"challenge": envelope.Challenge})
		return channel.WebhookResult{Challenge: string(reply)}, nil
	}
	if envelope.Header.EventType != "im.message.receive_v1" {
		return channel.WebhookResult{}, nil
	}
	msg := envelope.Event.Message
	if msg.MessageType != "text" {
		return channel.WebhookResult{}, nil
	}
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode lark text content: %w", err)
	}
	text := strings.TrimSpace(stripMentions(content.Text))
	if text == "" {
		return channel.WebhookResult{}, nil
	}
	return channel.WebhookResult{Message: &channel.UnifiedMessage{
		Platform:  bots.PlatformLark,
		BotKey:    bot.BotKey,
		ChatID:    msg.ChatID,
		ChatType:  identity.ParseChatType(msg.ChatType),
		SenderID:  envelope.Event.Sender.SenderID.OpenID,
		MessageID: msg.MessageID,
		Text:      text,
		Timestamp: larkTimestamp(envelope.Header.CreateTime),
	}}, nil
}

// Send delivers one text message to a chat.
func (a *Adapter) Send(ctx context.Context, bot bots.Bot, chatID, text string) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	client := a.clientFor(bot.BotKey, creds)

	content, _ := json.Marshal(map[string]string{"text": text})
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark send: %w", err)
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return fmt.Errorf("lark send failed: %s (code %d)", msg, code)
	}
	return nil
}

func (a *Adapter) clientFor(botKey string, creds credentials) *larksdk.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[botKey]; ok {
		return c
	}
	client := larksdk.NewClient(creds.AppID, creds.AppSecret)
	a.clients[botKey] = client
	return client
}

// stripMentions drops @_user_N placeholders Lark injects for mentions.
func stripMentions(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "@_user_") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func larkTimestamp(millis string) time.Time {
	n, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func parseCredentials(bot bots.Bot) (credentials, error) {
	var creds credentials
	if len(bot.Credentials) > 0 {
		if err := json.Unmarshal(bot.Credentials, &creds); err != nil {
			return credentials{}, fmt.Errorf("lark credentials: %w", err)
		}
	}
	if creds.AppID == "" || creds.AppSecret == "" {
		return credentials{}, fmt.Errorf("lark bot %s is missing app_id or app_secret", bot.BotKey)
	}
	return creds, nil
}
