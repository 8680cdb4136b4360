// Package routing decides where a message goes: which upstream endpoint,
// which API key, which timeout. Resolution walks a fixed priority chain so
// the same inputs always pick the same target.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/projects"
)

// ErrNoRoute means no project and no bot-level fallback could serve the message.
var ErrNoRoute = errors.New("no route for message")

// Target is a resolved forwarding destination.
type Target struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	ProjectID   string
	ProjectName string
}

// ProjectSource supplies per-conversation project configs.
type ProjectSource interface {
	GetByProjectID(ctx context.Context, botKey, chatID, projectID string) (projects.Project, error)
	GetDefault(ctx context.Context, botKey, chatID string) (projects.Project, error)
	ListEnabled(ctx context.Context, botKey, chatID string) ([]projects.Project, error)
}

// BotSource supplies bot registrations for the bot-level fallback.
type BotSource interface {
	GetByKey(ctx context.Context, botKey string) (bots.Bot, error)
}

// Resolver resolves targets through the priority chain:
//
//  1. the session's bound project, if any and still enabled
//  2. the conversation's default project
//  3. the sole enabled project, when exactly one exists
//  4. the first enabled project (default flag first, then oldest)
//  5. the bot's own target URL
//
// A session bound to a disabled or deleted project falls through rather than
// failing, so conversations survive project churn.
type Resolver struct {
	projects ProjectSource
	bots     BotSource
	logger   *slog.Logger
}

// NewResolver creates a routing resolver.
func NewResolver(log *slog.Logger, projectSource ProjectSource, botSource BotSource) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		projects: projectSource,
		bots:     botSource,
		logger:   log.With(slog.String("service", "routing")),
	}
}

// Resolve picks the target for a message. sessionProjectID is the project the
// active session is bound to, empty when the session has no binding.
func (r *Resolver) Resolve(ctx context.Context, botKey, chatID, sessionProjectID string) (Target, error) {
	if sessionProjectID != "" {
		p, err := r.projects.GetByProjectID(ctx, botKey, chatID, sessionProjectID)
		switch {
		case err == nil && p.Enabled:
			return projectTarget(p), nil
		case err != nil && !errors.Is(err, projects.ErrNotFound):
			return Target{}, fmt.Errorf("resolve session project: %w", err)
		default:
			r.logger.Debug("session project unavailable, falling through",
				slog.String("bot_key", botKey),
				slog.String("project_id", sessionProjectID),
			)
		}
	}

	p, err := r.projects.GetDefault(ctx, botKey, chatID)
	if err == nil {
		return projectTarget(p), nil
	}
	if !errors.Is(err, projects.ErrNotFound) {
		return Target{}, fmt.Errorf("resolve default project: %w", err)
	}

	enabled, err := r.projects.ListEnabled(ctx, botKey, chatID)
	if err != nil {
		return Target{}, fmt.Errorf("list enabled projects: %w", err)
	}
	// ListEnabled orders default-first then oldest, so steps 3 and 4 of the
	// chain collapse into taking the head of the list.
	if len(enabled) > 0 {
		return projectTarget(enabled[0]), nil
	}

	bot, err := r.bots.GetByKey(ctx, botKey)
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return Target{}, ErrNoRoute
		}
		return Target{}, fmt.Errorf("resolve bot fallback: %w", err)
	}
	if bot.TargetURL == "" {
		return Target{}, ErrNoRoute
	}
	return Target{
		URL:     bot.TargetURL,
		APIKey:  bot.APIKey,
		Timeout: timeoutSeconds(bot.TimeoutSeconds),
	}, nil
}

func projectTarget(p projects.Project) Target {
	return Target{
		URL:         p.TargetURL,
		APIKey:      p.APIKey,
		Timeout:     timeoutSeconds(p.TimeoutSeconds),
		ProjectID:   p.ProjectID,
		ProjectName: p.ProjectName,
	}
}

func timeoutSeconds(n int) time.Duration {
	if n <= 0 {
		n = 60
	}
	return time.Duration(n) * time.Second
}
