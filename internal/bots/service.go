package bots

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
	ErrNotFound = errors.New("bot not found")
	ErrExists   = errors.New("bot already exists")
)

// Service manages chatbot registrations and their access rules.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a bot service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "bots")),
	}
}

const botColumns = `id, bot_key, platform, name, credentials,
	COALESCE(target_url, ''), COALESCE(api_key, ''), timeout_seconds, access_mode, enabled,
	created_at, updated_at`

func scanBot(row pgx.Row) (Bot, error) {
	var b Bot
	err := row.Scan(
		&b.ID, &b.BotKey, &b.Platform, &b.Name, &b.Credentials,
		&b.TargetURL, &b.APIKey, &b.TimeoutSeconds, &b.AccessMode, &b.Enabled,
		&b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

// GetByKey looks up a bot by its stable bot key.
func (s *Service) GetByKey(ctx context.Context, botKey string) (Bot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+botColumns+`
		FROM chatbots
		WHERE bot_key = $1`,
		botKey,
	)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// List returns all registered bots.
func (s *Service) List(ctx context.Context) ([]Bot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+botColumns+`
		FROM chatbots
		ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var items []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// ListEnabled returns enabled bots only; used to start platform listeners.
func (s *Service) ListEnabled(ctx context.Context) ([]Bot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+botColumns+`
		FROM chatbots
		WHERE enabled
		ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled bots: %w", err)
	}
	defer rows.Close()

	var items []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// Create registers a new bot.
func (s *Service) Create(ctx context.Context, req CreateBotRequest) (Bot, error) {
	if strings.TrimSpace(req.BotKey) == "" {
		return Bot{}, errors.New("bot key is required")
	}
	if !ValidPlatform(req.Platform) {
		return Bot{}, fmt.Errorf("unsupported platform %q", req.Platform)
	}
	mode := req.AccessMode
	if mode == "" {
		mode = AccessOpen
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chatbots
			(bot_key, platform, name, credentials, target_url, api_key, timeout_seconds, access_mode)
		VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING `+botColumns,
		req.BotKey, req.Platform, req.Name, req.Credentials,
		req.TargetURL, req.APIKey, timeout, mode,
	)
	b, err := scanBot(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Bot{}, ErrExists
		}
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	s.logger.Info("bot created",
		slog.String("bot_key", b.BotKey),
		slog.String("platform", string(b.Platform)),
	)
	return b, nil
}

// Update applies partial changes to a bot.
func (s *Service) Update(ctx context.Context, botKey string, req UpdateBotRequest) (Bot, error) {
	current, err := s.GetByKey(ctx, botKey)
	if err != nil {
		return Bot{}, err
	}
	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Credentials != nil {
		current.Credentials = *req.Credentials
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
	if req.AccessMode != nil {
		current.AccessMode = *req.AccessMode
	}
	if req.Enabled != nil {
		current.Enabled = *req.Enabled
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE chatbots
		SET name = $2,
		    credentials = COALESCE($3, '{}'::jsonb),
		    target_url = NULLIF($4, ''),
		    api_key = NULLIF($5, ''),
		    timeout_seconds = $6,
		    access_mode = $7,
		    enabled = $8,
		    updated_at = now()
		WHERE bot_key = $1
		RETURNING `+botColumns,
		botKey, current.Name, current.Credentials, current.TargetURL,
		current.APIKey, current.TimeoutSeconds, current.AccessMode, current.Enabled,
	)
	b, err := scanBot(row)
	if err != nil {
		return Bot{}, fmt.Errorf("update bot: %w", err)
	}
	return b, nil
}

// Delete removes a bot and (via cascade) its access rules.
func (s *Service) Delete(ctx context.Context, botKey string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chatbots WHERE bot_key = $1`, botKey)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("bot deleted", slog.String("bot_key", botKey))
	return nil
}

// AddRule inserts a whitelist or blacklist entry for a chat. Inserting the
// same (bot, chat, type) twice is a no-op.
func (s *Service) AddRule(ctx context.Context, botKey, chatID string, ruleType RuleType, note string) error {
	if ruleType != RuleWhitelist && ruleType != RuleBlacklist {
		return fmt.Errorf("unsupported rule type %q", ruleType)
	}
	b, err := s.GetByKey(ctx, botKey)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_access_rules (bot_id, chat_id, rule_type, note)
		VALUES ($1, $2, $3, NULLIF($4, ''))`,
		b.ID, chatID, ruleType, note,
	)
	if err != nil && !db.IsUniqueViolation(err) {
		return fmt.Errorf("add access rule: %w", err)
	}
	return nil
}

// RemoveRule deletes one access rule entry.
func (s *Service) RemoveRule(ctx context.Context, botKey, chatID string, ruleType RuleType) error {
	b, err := s.GetByKey(ctx, botKey)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		DELETE FROM chat_access_rules
		WHERE bot_id = $1 AND chat_id = $2 AND rule_type = $3`,
		b.ID, chatID, ruleType,
	)
	if err != nil {
		return fmt.Errorf("remove access rule: %w", err)
	}
	return nil
}

// ListRules returns all access rules for a bot.
func (s *Service) ListRules(ctx context.Context, botKey string) ([]AccessRule, error) {
	b, err := s.GetByKey(ctx, botKey)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, bot_id, chat_id, rule_type, COALESCE(note, ''), created_at
		FROM chat_access_rules
		WHERE bot_id = $1
		ORDER BY created_at`,
		b.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list access rules: %w", err)
	}
	defer rows.Close()

	var rules []AccessRule
	for rows.Next() {
		var r AccessRule
		if err := rows.Scan(&r.ID, &r.BotID, &r.ChatID, &r.RuleType, &r.Note, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CheckAccess decides whether the bot should answer in chatID. Open mode
// denies only blacklisted chats; whitelist mode allows only whitelisted ones.
func (s *Service) CheckAccess(ctx context.Context, bot Bot, chatID string) (bool, error) {
	switch bot.AccessMode {
	case AccessWhitelist:
		return s.hasRule(ctx, bot.ID, chatID, RuleWhitelist)
	default:
		blocked, err := s.hasRule(ctx, bot.ID, chatID, RuleBlacklist)
		if err != nil {
			return false, err
		}
		return !blocked, nil
	}
}

func (s *Service) hasRule(ctx context.Context, botID, chatID string, ruleType RuleType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_access_rules
			WHERE bot_id = $1 AND chat_id = $2 AND rule_type = $3
		)`,
		botID, chatID, ruleType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access rule: %w", err)
	}
	return exists, nil
}
