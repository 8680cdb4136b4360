// Package slack adapts the Slack Events API and Web API.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/identity"
)

type credentials struct {
	BotToken      string `json:"bot_token"`
	SigningSecret string `json:"signing_secret"`
}

// Adapter implements channel.Adapter for Slack.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates a Slack adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{logger: log.With(slog.String("adapter", "slack"))}
}

func (a *Adapter) Platform() bots.Platform { return bots.PlatformSlack }

// Slack truncates messages past 4000 characters.
func (a *Adapter) ChunkLimit() int { return 4000 }

// VerifyWebhook validates the request signature against the signing secret.
func (a *Adapter) VerifyWebhook(bot bots.Bot, header http.Header, body []byte) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	if creds.SigningSecret == "" {
		return nil
	}
	verifier, err := slackapi.NewSecretsVerifier(header, creds.SigningSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrVerificationFailed, err)
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrVerificationFailed, err)
	}
	return nil
}

// ParseWebhook handles URL verification challenges and message events.
func (a *Adapter) ParseWebhook(bot bots.Bot, body []byte) (channel.WebhookResult, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return channel.WebhookResult{}, fmt.Errorf("decode slack event: %w", err)
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return channel.WebhookResult{}, fmt.Errorf("decode slack challenge: %w", err)
		}
		return channel.WebhookResult{Challenge: challenge.Challenge}, nil

	case slackevents.CallbackEvent:
		msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return channel.WebhookResult{}, nil
		}
		// Skip bot echoes and message mutations (edits, deletions, joins).
		if msg.BotID != "" || msg.SubType != "" {
			return channel.WebhookResult{}, nil
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return channel.WebhookResult{}, nil
		}
		return channel.WebhookResult{Message: &channel.UnifiedMessage{
			Platform:  bots.PlatformSlack,
			BotKey:    bot.BotKey,
			ChatID:    msg.Channel,
			ChatType:  identity.ParseChatType(msg.ChannelType),
			SenderID:  msg.User,
			MessageID: msg.TimeStamp,
			Text:      text,
			Timestamp: slackTimestamp(msg.TimeStamp),
		}}, nil
	}
	return channel.WebhookResult{}, nil
}

// Send posts one text message to a channel.
func (a *Adapter) Send(ctx context.Context, bot bots.Bot, chatID, text string) error {
	creds, err := parseCredentials(bot)
	if err != nil {
		return err
	}
	client := slackapi.New(creds.BotToken)
	if _, _, err := client.PostMessageContext(ctx, chatID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// slackTimestamp converts Slack's "seconds.fraction" event timestamp.
func slackTimestamp(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func parseCredentials(bot bots.Bot) (credentials, error) {
	var creds credentials
	if len(bot.Credentials) > 0 {
		if err := json.Unmarshal(bot.Credentials, &creds); err != nil {
			return credentials{}, fmt.Errorf("slack credentials: %w", err)
		}
	}
	if creds.BotToken == "" {
		return credentials{}, fmt.Errorf("slack bot %s has no bot_token", bot.BotKey)
	}
	return creds, nil
}
