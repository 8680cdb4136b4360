// Package projects manages per-conversation forwarding targets (user project configs).
package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybotio/relaybot/internal/db"
)

var (
	ErrNotFound = errors.New("project not found")
	ErrExists   = errors.New("project already exists")
)

// Service manages user_project_configs rows.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a project service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "projects")),
	}
}

const projectColumns = `id, bot_key, chat_id, project_id, COALESCE(project_name, ''),
	target_url, COALESCE(api_key, ''), timeout_seconds, is_default, enabled,
	created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(
		&p.ID, &p.BotKey, &p.ChatID, &p.ProjectID, &p.ProjectName,
		&p.TargetURL, &p.APIKey, &p.TimeoutSeconds, &p.IsDefault, &p.Enabled,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetByProjectID looks up a project by its conversation scope and project id.
func (s *Service) GetByProjectID(ctx context.Context, botKey, chatID, projectID string) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM user_project_configs
		WHERE bot_key = $1 AND chat_id = $2 AND project_id = $3`,
		botKey, chatID, projectID,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetDefault returns the enabled default project for the scope, or ErrNotFound.
func (s *Service) GetDefault(ctx context.Context, botKey, chatID string) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM user_project_configs
		WHERE bot_key = $1 AND chat_id = $2 AND is_default AND enabled`,
		botKey, chatID,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get default project: %w", err)
	}
	return p, nil
}

// ListEnabled returns the enabled projects for the scope ordered default
// first, then earliest created. The ordering is what makes the routing
// chain's tie-break deterministic.
func (s *Service) ListEnabled(ctx context.Context, botKey, chatID string) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM user_project_configs
		WHERE bot_key = $1 AND chat_id = $2 AND enabled
		ORDER BY is_default DESC, created_at ASC`,
		botKey, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return collectProjects(rows)
}

// List returns all projects for the scope regardless of enabled state.
func (s *Service) List(ctx context.Context, botKey, chatID string) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM user_project_configs
		WHERE bot_key = $1 AND chat_id = $2
		ORDER BY is_default DESC, created_at ASC`,
		botKey, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return collectProjects(rows)
}

func collectProjects(rows pgx.Rows) ([]Project, error) {
	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// Create registers a new project.
func (s *Service) Create(ctx context.Context, req CreateProjectRequest) (Project, error) {
	if strings.TrimSpace(req.BotKey) == "" || strings.TrimSpace(req.ChatID) == "" {
		return Project{}, errors.New("bot key and chat id are required")
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return Project{}, errors.New("project id is required")
	}
	if strings.TrimSpace(req.TargetURL) == "" {
		return Project{}, errors.New("target url is required")
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_project_configs
			(bot_key, chat_id, project_id, project_name, target_url, api_key, timeout_seconds, is_default)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)
		RETURNING `+projectColumns,
		req.BotKey, req.ChatID, req.ProjectID, req.ProjectName,
		req.TargetURL, req.APIKey, timeout, req.IsDefault,
	)
	p, err := scanProject(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Project{}, ErrExists
		}
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	if p.IsDefault {
		if err := s.SetDefault(ctx, p.BotKey, p.ChatID, p.ProjectID); err != nil {
			return Project{}, err
		}
	}
	s.logger.Info("project created",
		slog.String("bot_key", p.BotKey),
		slog.String("project_id", p.ProjectID),
	)
	return p, nil
}

// Update applies partial changes to a project.
func (s *Service) Update(ctx context.Context, botKey, chatID, projectID string, req UpdateProjectRequest) (Project, error) {
	current, err := s.GetByProjectID(ctx, botKey, chatID, projectID)
	if err != nil {
		return Project{}, err
	}
	if req.ProjectName != nil {
		current.ProjectName = *req.ProjectName
	}
	if req.TargetURL != nil {
		current.TargetURL = *req.TargetURL
	}
	if req.APIKey != nil {
		current.APIKey = *req.APIKey
	}
	if req.TimeoutSeconds != nil {
		current.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.Enabled != nil {
		current.Enabled = *req.Enabled
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE user_project_configs
		SET project_name = NULLIF($2, ''),
		    target_url = $3,
		    api_key = NULLIF($4, ''),
		    timeout_seconds = $5,
		    enabled = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		current.ID, current.ProjectName, current.TargetURL, current.APIKey,
		current.TimeoutSeconds, current.Enabled,
	)
	p, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// SetDefault marks one project as the scope default, clearing any previous
// default within the same transaction.
func (s *Service) SetDefault(ctx context.Context, botKey, chatID, projectID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin set default tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE user_project_configs
		SET is_default = FALSE, updated_at = now()
		WHERE bot_key = $1 AND chat_id = $2 AND is_default AND project_id <> $3`,
		botKey, chatID, projectID,
	); err != nil {
		return fmt.Errorf("clear default flag: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE user_project_configs
		SET is_default = TRUE, updated_at = now()
		WHERE bot_key = $1 AND chat_id = $2 AND project_id = $3`,
		botKey, chatID, projectID,
	)
	if err != nil {
		return fmt.Errorf("set default flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// Delete removes a project.
func (s *Service) Delete(ctx context.Context, botKey, chatID, projectID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_project_configs
		WHERE bot_key = $1 AND chat_id = $2 AND project_id = $3`,
		botKey, chatID, projectID,
	)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
