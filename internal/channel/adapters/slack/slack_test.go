package slack

import (
	"testing"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/identity"
)

func testBot() bots.Bot {
	return bots.Bot{
		BotKey:      "sl-main",
		Platform:    bots.PlatformSlack,
		Credentials: []byte(`{"bot_token":"xoxb-1","signing_secret":"sec"}`),
	}
}

func TestParseWebhook_URLVerification(t *testing.T) {
	t.Parallel()
	payload := `{"token":"t","challenge":"ch-42","type":"url_verification"}`
	res, err := NewAdapter(nil).ParseWebhook(testBot(), []byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if res.Challenge != "ch-42" {
		t.Fatalf("challenge = %q", res.Challenge)
	}
}

func TestParseWebhook_DirectMessage(t *testing.T) {
	t.Parallel()
	payload := `{"token":"t","team_id":"T1","type":"event_callback","event":{"type":"message","channel":"D123","channel_type":"im","user":"U1","text":"hi there","ts":"1700000000.000100"}}`
	res, err := NewAdapter(nil).ParseWebhook(testBot(), []byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	msg := res.Message
	if msg == nil {
		t.Fatal("no message parsed")
	}
	if msg.ChatID != "D123" || msg.ChatType != identity.ChatTypePrivate {
		t.Fatalf("chat = %q/%q", msg.ChatID, msg.ChatType)
	}
	if msg.SenderID != "U1" || msg.Text != "hi there" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseWebhook_ChannelMessage(t *testing.T) {
	t.Parallel()
	payload := `{"token":"t","team_id":"T1","type":"event_callback","event":{"type":"message","channel":"C77","channel_type":"channel","user":"U2","text":"in channel","ts":"1700000001.000100"}}`
	res, err := NewAdapter(nil).ParseWebhook(testBot(), []byte(payload))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if res.Message == nil || res.Message.ChatType != identity.ChatTypeGroup {
		t.Fatalf("result = %+v", res)
	}
}

func TestParseWebhook_BotAndSubtypeIgnored(t *testing.T) {
	t.Parallel()
	a := NewAdapter(nil)
	cases := []string{
		`{"token":"t","type":"event_callback","event":{"type":"message","channel":"C1","bot_id":"B1","text":"echo","ts":"1.2"}}`,
		`{"token":"t","type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","user":"U1","text":"edit","ts":"1.2"}}`,
	}
	for _, payload := range cases {
		res, err := a.ParseWebhook(testBot(), []byte(payload))
		if err != nil {
			t.Fatalf("ParseWebhook(%s): %v", payload, err)
		}
		if res.Message != nil {
			t.Fatalf("payload unexpectedly produced a message: %s", payload)
		}
	}
}
