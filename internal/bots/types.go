// Package bots manages chatbot registrations: one row per platform bot,
// carrying its credentials, default forwarding target and access policy.
package bots

import (
	"encoding/json"
	"time"
)

// Platform identifies which messaging platform a bot is registered on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
	PlatformLark     Platform = "lark"
)

// AccessMode controls which chats a bot answers in.
type AccessMode string

const (
	// AccessOpen answers every chat except blacklisted ones.
	AccessOpen AccessMode = "open"
	// AccessWhitelist answers only whitelisted chats.
	AccessWhitelist AccessMode = "whitelist"
)

// RuleType distinguishes access rule rows.
type RuleType string

const (
	RuleWhitelist RuleType = "whitelist"
	RuleBlacklist RuleType = "blacklist"
)

// Bot is a registered chatbot.
type Bot struct {
	ID             string          `json:"id"`
	BotKey         string          `json:"bot_key"`
	Platform       Platform        `json:"platform"`
	Name           string          `json:"name,omitempty"`
	Credentials    json.RawMessage `json:"credentials,omitempty"`
	TargetURL      string          `json:"target_url,omitempty"`
	APIKey         string          `json:"api_key,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	AccessMode     AccessMode      `json:"access_mode"`
	Enabled        bool            `json:"enabled"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccessRule is one whitelist or blacklist entry for a bot.
type AccessRule struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	ChatID    string    `json:"chat_id"`
	RuleType  RuleType  `json:"rule_type"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBotRequest is the admin API payload for registering a bot.
type CreateBotRequest struct {
	BotKey         string          `json:"bot_key"`
	Platform       Platform        `json:"platform"`
	Name           string          `json:"name,omitempty"`
	Credentials    json.RawMessage `json:"credentials,omitempty"`
	TargetURL      string          `json:"target_url,omitempty"`
	APIKey         string          `json:"api_key,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	AccessMode     AccessMode      `json:"access_mode,omitempty"`
}

// UpdateBotRequest carries optional field updates; nil means unchanged.
type UpdateBotRequest struct {
	Name           *string          `json:"name,omitempty"`
	Credentials    *json.RawMessage `json:"credentials,omitempty"`
	TargetURL      *string          `json:"target_url,omitempty"`
	APIKey         *string          `json:"api_key,omitempty"`
	TimeoutSeconds *int             `json:"timeout_seconds,omitempty"`
	AccessMode     *AccessMode      `json:"access_mode,omitempty"`
	Enabled        *bool            `json:"enabled,omitempty"`
}

// ValidPlatform reports whether p names a supported platform.
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformTelegram, PlatformSlack, PlatformDiscord, PlatformLark:
		return true
	}
	return false
}
