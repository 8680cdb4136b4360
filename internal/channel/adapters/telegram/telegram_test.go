package telegram

import (
	"net/http"
	"testing"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/identity"
)

func testBot(secret string) bots.Bot {
	creds := `{"bot_token":"123:abc"`
	if secret != "" {
		creds += `,"webhook_secret":"` + secret + `"`
	}
	creds += `}`
	return bots.Bot{BotKey: "tg-main", Platform: bots.PlatformTelegram, Credentials: []byte(creds)}
}

const groupUpdate = `{
	"update_id": 10,
	"message": {
		"message_id": 77,
		"date": 1700000000,
		"text": "hello there",
		"from": {"id": 42, "is_bot": false, "first_name": "Ada", "last_name": "L"},
		"chat": {"id": -100123, "type": "supergroup", "title": "devs"}
	}
}`

func TestParseWebhook_GroupMessage(t *testing.T) {
	t.Parallel()
	res, err := NewAdapter(nil).ParseWebhook(testBot(""), []byte(groupUpdate))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	msg := res.Message
	if msg == nil {
		t.Fatal("no message parsed")
	}
	if msg.ChatID != "-100123" || msg.ChatType != identity.ChatTypeGroup {
		t.Fatalf("chat = %q/%q", msg.ChatID, msg.ChatType)
	}
	if msg.SenderID != "42" || msg.SenderName != "Ada L" {
		t.Fatalf("sender = %q/%q", msg.SenderID, msg.SenderName)
	}
	if msg.Text != "hello there" || msg.MessageID != "77" {
		t.Fatalf("text/id = %q/%q", msg.Text, msg.MessageID)
	}
}

func TestParseWebhook_PrivateChat(t *testing.T) {
	t.Parallel()
	payload := `{"message":{"message_id":1,"date":1700000000,"text":"hi","from":{"id":9,"is_bot":false,"first_name":"Bo"},"chat":{"id":9,"type":"private"}}}`
	res, err := NewAdapter(nil).ParseWebhook(testBot(""), []byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if res.Message == nil || res.Message.ChatType != identity.ChatTypePrivate {
		t.Fatalf("result = %+v", res)
	}
}

func TestParseWebhook_IgnoresBotsAndEmpty(t *testing.T) {
	t.Parallel()
	a := NewAdapter(nil)
	cases := []string{
		`{"message":{"message_id":1,"date":1,"text":"x","from":{"id":9,"is_bot":true},"chat":{"id":9,"type":"private"}}}`,
		`{"message":{"message_id":1,"date":1,"from":{"id":9,"is_bot":false},"chat":{"id":9,"type":"private"}}}`,
		`{"edited_message":{"message_id":1,"date":1,"text":"edit"}}`,
	}
	for _, payload := range cases {
		res, err := a.ParseWebhook(testBot(""), []byte(payload))
		if err != nil {
			t.Fatalf("ParseWebhook(%s): %v", payload, err)
		}
		if res.Message != nil {
			t.Fatalf("payload unexpectedly produced a message: %s", payload)
		}
	}
}

func TestVerifyWebhook_SecretToken(t *testing.T) {
	t.Parallel()
	a := NewAdapter(nil)
	bot := testBot("s3cret")

	h := http.Header{}
	h.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	if err := a.VerifyWebhook(bot, h, nil); err != nil {
		t.Fatalf("valid secret rejected: %v", err)
	}

	h.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	if err := a.VerifyWebhook(bot, h, nil); err == nil {
		t.Fatal("wrong secret accepted")
	}

	// No secret configured accepts anything.
	if err := a.VerifyWebhook(testBot(""), http.Header{}, nil); err != nil {
		t.Fatalf("open bot rejected: %v", err)
	}
}
