package projects

import "time"

// Project is a per-conversation forwarding target owned by a chat (or user)
// under one bot. A conversation may hold several projects; at most one is the
// default.
type Project struct {
	ID             string    `json:"id"`
	BotKey         string    `json:"bot_key"`
	ChatID         string    `json:"chat_id"`
	ProjectID      string    `json:"project_id"`
	ProjectName    string    `json:"project_name,omitempty"`
	TargetURL      string    `json:"target_url"`
	APIKey         string    `json:"api_key,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	IsDefault      bool      `json:"is_default"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateProjectRequest is the admin API payload for registering a project.
type CreateProjectRequest struct {
	BotKey         string `json:"bot_key"`
	ChatID         string `json:"chat_id"`
	ProjectID      string `json:"project_id"`
	ProjectName    string `json:"project_name,omitempty"`
	TargetURL      string `json:"target_url"`
	APIKey         string `json:"api_key,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	IsDefault      bool   `json:"is_default,omitempty"`
}

// UpdateProjectRequest carries optional field updates; nil means unchanged.
type UpdateProjectRequest struct {
	ProjectName    *string `json:"project_name,omitempty"`
	TargetURL      *string `json:"target_url,omitempty"`
	APIKey         *string `json:"api_key,omitempty"`
	TimeoutSeconds *int    `json:"timeout_seconds,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
}
