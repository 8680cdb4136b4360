// Package forwardlog records the outcome of every upstream forward for
// auditing and debugging.
package forwardlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status of one forward attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one audit row.
type Entry struct {
	ID         int64     `json:"id"`
	BotKey     string    `json:"bot_key"`
	ChatID     string    `json:"chat_id"`
	OwnerKey   string    `json:"owner_key"`
	Message    string    `json:"message,omitempty"`
	TargetURL  string    `json:"target_url,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	Status     Status    `json:"status"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int32     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Begun describes one forward about to happen.
type Begun struct {
	BotKey    string
	ChatID    string
	OwnerKey  string
	Message   string
	TargetURL string
	SessionID string
	ProjectID string
}

var ErrNotFound = errors.New("forward log entry not found")

// Service writes and reads forward_logs rows.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a forward log service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "forwardlog")),
	}
}

// Begin records a pending attempt and returns its id.
func (s *Service) Begin(ctx context.Context, b Begun) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO forward_logs
			(bot_key, chat_id, owner_key, message, target_url, session_id, project_id, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING id`,
		b.BotKey, b.ChatID, b.OwnerKey, b.Message, b.TargetURL, b.SessionID, b.ProjectID, StatusPending,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record forward start: %w", err)
	}
	return id, nil
}

// Complete marks the attempt as succeeded and stores the upstream reply.
func (s *Service) Complete(ctx context.Context, id int64, response string, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE forward_logs
		SET status = $2, response = NULLIF($3, ''), duration_ms = $4
		WHERE id = $1`,
		id, StatusSuccess, response, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("complete forward log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks the attempt as failed with the given cause.
func (s *Service) Fail(ctx context.Context, id int64, cause error, duration time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE forward_logs
		SET status = $2, error = NULLIF($3, ''), duration_ms = $4
		WHERE id = $1`,
		id, StatusError, msg, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("fail forward log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const entryColumns = `id, bot_key, chat_id, owner_key, COALESCE(message, ''), COALESCE(target_url, ''),
	COALESCE(session_id, ''), COALESCE(project_id, ''), status, COALESCE(response, ''),
	COALESCE(error, ''), COALESCE(duration_ms, 0), created_at`

// Recent returns the latest entries, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT `+entryColumns+`
		FROM forward_logs
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
}

// Errors returns the latest failed entries, newest first.
func (s *Service) Errors(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT `+entryColumns+`
		FROM forward_logs
		WHERE status = 'error'
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
}

// ForBot returns the latest entries for one bot, newest first.
func (s *Service) ForBot(ctx context.Context, botKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT `+entryColumns+`
		FROM forward_logs
		WHERE bot_key = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		botKey, limit,
	)
}

func (s *Service) query(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query forward logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row, e *Entry) error {
	if err := row.Scan(
		&e.ID, &e.BotKey, &e.ChatID, &e.OwnerKey, &e.Message, &e.TargetURL,
		&e.SessionID, &e.ProjectID, &e.Status, &e.Response,
		&e.Error, &e.DurationMS, &e.CreatedAt,
	); err != nil {
		return fmt.Errorf("scan forward log: %w", err)
	}
	return nil
}
