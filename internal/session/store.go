// Package session persists conversation threads and their active/inactive lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybotio/relaybot/internal/db"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrAmbiguousShortID = errors.New("short id matches more than one session")
)

// Store manages user_sessions rows. At most one session per scope is active,
// enforced by a partial unique index; Store relies on that constraint instead
// of application-side locking.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "sessions")),
	}
}

const sessionColumns = `id, owner_key, chat_id, bot_key,
	COALESCE(session_id, ''), COALESCE(short_id, ''), COALESCE(current_project_id, ''),
	is_active, message_count, COALESCE(last_message, ''),
	COALESCE(last_message_at, 'epoch'::timestamptz), created_at, updated_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.OwnerKey, &s.ChatID, &s.BotKey,
		&s.SessionID, &s.ShortID, &s.CurrentProjectID,
		&s.IsActive, &s.MessageCount, &s.LastMessage,
		&s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// GetActive returns the active session for the scope, or ErrNotFound.
func (s *Store) GetActive(ctx context.Context, scope Scope) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND is_active`,
		scope.OwnerKey, scope.ChatID, scope.BotKey,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

// CreateOrActivate returns the active session for the scope, creating a fresh
// one when none exists. Safe under concurrent calls: the partial unique index
// rejects a second active row, in which case the winner's row is returned.
func (s *Store) CreateOrActivate(ctx context.Context, scope Scope) (Session, error) {
	existing, err := s.GetActive(ctx, scope)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_sessions (owner_key, chat_id, bot_key, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+sessionColumns,
		scope.OwnerKey, scope.ChatID, scope.BotKey,
	)
	created, err := scanSession(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race to a concurrent first message; use its session.
			return s.GetActive(ctx, scope)
		}
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created",
		slog.String("owner", scope.OwnerKey),
		slog.String("bot_key", scope.BotKey),
	)
	return created, nil
}

// RecordTurn updates the session after a successful forward: attaches (or
// rewrites) the downstream session id, bumps the message count, and stores the
// last-message snippet. Idempotent with respect to an unchanged session id.
func (s *Store) RecordTurn(ctx context.Context, sess Session, newSessionID, messageText string) (Session, error) {
	sessionID := newSessionID
	if sessionID == "" {
		sessionID = sess.SessionID
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE user_sessions
		SET session_id = NULLIF($2, ''),
		    short_id = NULLIF($3, ''),
		    message_count = message_count + 1,
		    last_message = $4,
		    last_message_at = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns,
		sess.ID, sessionID, ShortID(sessionID), Snippet(messageText),
	)
	updated, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("record turn: %w", err)
	}
	if sess.SessionID == "" && updated.SessionID != "" {
		s.logger.Info("downstream session attached",
			slog.String("short_id", updated.ShortID),
			slog.String("bot_key", updated.BotKey),
		)
	}
	return updated, nil
}

// List returns the most recently used sessions for the scope, newest first.
func (s *Store) List(ctx context.Context, scope Scope, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3
		ORDER BY updated_at DESC
		LIMIT $4`,
		scope.OwnerKey, scope.ChatID, scope.BotKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Reset deactivates the active session, if any. History is kept; the next
// inbound message mints a fresh session. Returns whether a session was active.
func (s *Store) Reset(ctx context.Context, scope Scope) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE, updated_at = now()
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND is_active`,
		scope.OwnerKey, scope.ChatID, scope.BotKey,
	)
	if err != nil {
		return false, fmt.Errorf("reset session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("session reset",
			slog.String("owner", scope.OwnerKey),
			slog.String("bot_key", scope.BotKey),
		)
	}
	return tag.RowsAffected() > 0, nil
}

// SwitchTo activates the historical session addressed by shortID within one
// transaction: the current active session is deactivated and the target
// activated atomically. An exact short_id match wins; otherwise shortID is
// treated as a session_id prefix. A prefix matching more than one session
// fails with ErrAmbiguousShortID so the caller can ask for more characters.
func (s *Store) SwitchTo(ctx context.Context, scope Scope, shortID string) (Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Session{}, fmt.Errorf("begin switch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	target, err := s.findSwitchTarget(ctx, tx, scope, shortID)
	if err != nil {
		return Session{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE, updated_at = now()
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND is_active AND id <> $4`,
		scope.OwnerKey, scope.ChatID, scope.BotKey, target.ID,
	); err != nil {
		return Session{}, fmt.Errorf("deactivate current session: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE user_sessions
		SET is_active = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns,
		target.ID,
	)
	activated, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("activate session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("commit switch tx: %w", err)
	}
	s.logger.Info("session switched",
		slog.String("owner", scope.OwnerKey),
		slog.String("short_id", activated.ShortID),
	)
	return activated, nil
}

func (s *Store) findSwitchTarget(ctx context.Context, tx pgx.Tx, scope Scope, shortID string) (Session, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND short_id = $4`,
		scope.OwnerKey, scope.ChatID, scope.BotKey, shortID,
	)
	target, err := scanSession(row)
	if err == nil {
		return resolveSwitchTarget(&target, nil)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("find session by short id: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND session_id LIKE $4 || '%'
		LIMIT 2`,
		scope.OwnerKey, scope.ChatID, scope.BotKey, shortID,
	)
	if err != nil {
		return Session{}, fmt.Errorf("find session by prefix: %w", err)
	}
	defer rows.Close()

	var matches []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return Session{}, fmt.Errorf("scan session: %w", err)
		}
		matches = append(matches, sess)
	}
	if err := rows.Err(); err != nil {
		return Session{}, err
	}
	return resolveSwitchTarget(nil, matches)
}

// resolveSwitchTarget applies the short-id addressing policy: an exact
// short_id match wins outright; otherwise a lone session_id prefix match is
// taken. No match is ErrNotFound; several prefix matches are
// ErrAmbiguousShortID, so the caller supplies more characters instead of the
// store guessing which session was meant.
func resolveSwitchTarget(exact *Session, prefixMatches []Session) (Session, error) {
	if exact != nil {
		return *exact, nil
	}
	switch len(prefixMatches) {
	case 0:
		return Session{}, ErrNotFound
	case 1:
		return prefixMatches[0], nil
	default:
		return Session{}, ErrAmbiguousShortID
	}
}

// SetProject records a project override on the active session, creating an
// empty active session to hold the preference when none exists yet.
func (s *Store) SetProject(ctx context.Context, scope Scope, projectID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE user_sessions
		SET current_project_id = NULLIF($4, ''), updated_at = now()
		WHERE owner_key = $1 AND chat_id = $2 AND bot_key = $3 AND is_active
		RETURNING `+sessionColumns,
		scope.OwnerKey, scope.ChatID, scope.BotKey, projectID,
	)
	updated, err := scanSession(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("set session project: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		INSERT INTO user_sessions (owner_key, chat_id, bot_key, is_active, current_project_id)
		VALUES ($1, $2, $3, TRUE, NULLIF($4, ''))
		RETURNING `+sessionColumns,
		scope.OwnerKey, scope.ChatID, scope.BotKey, projectID,
	)
	created, err := scanSession(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return s.SetProject(ctx, scope, projectID)
		}
		return Session{}, fmt.Errorf("create session for project: %w", err)
	}
	return created, nil
}
