package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybotio/relaybot/internal/db"
)

// Service manages processing_locks rows. The unique constraint on lock_key is
// the sole enforcement mechanism; no in-process lock is layered on top, since
// that would not hold across multiple service instances.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a lock service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "locks")),
	}
}

// TryAcquire inserts a lock row in a single atomic statement. Returns false
// when the key is already held. Never check-then-insert: the insert itself is
// the race arbiter.
func (s *Service) TryAcquire(ctx context.Context, key, ownerKey, chatID, botKey, message string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_locks (lock_key, owner_key, chat_id, bot_key, message)
		VALUES ($1, $2, $3, $4, $5)`,
		key, ownerKey, chatID, botKey, truncateMessage(message),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	s.logger.Debug("lock acquired", slog.String("key", key))
	return true, nil
}

// Release deletes the lock row. Idempotent; returns whether a row was removed.
func (s *Service) Release(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processing_locks WHERE lock_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	released := tag.RowsAffected() > 0
	if released {
		s.logger.Debug("lock released", slog.String("key", key))
	}
	return released, nil
}

// Get returns the lock row for key, or ErrNotFound.
var ErrNotFound = errors.New("lock not found")

func (s *Service) Get(ctx context.Context, key string) (Lock, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, lock_key, owner_key, chat_id, bot_key, message, acquired_at
		FROM processing_locks
		WHERE lock_key = $1`,
		key,
	)
	var l Lock
	err := row.Scan(&l.ID, &l.Key, &l.OwnerKey, &l.ChatID, &l.BotKey, &l.Message, &l.AcquiredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lock{}, ErrNotFound
		}
		return Lock{}, fmt.Errorf("get lock: %w", err)
	}
	return l, nil
}

// IsStale reports whether the lock for key has exceeded threshold. A missing
// lock is not stale; it is simply free.
func (s *Service) IsStale(ctx context.Context, key string, threshold time.Duration) (bool, Lock, error) {
	l, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Lock{}, nil
		}
		return false, Lock{}, err
	}
	return Stale(l.AcquiredAt, time.Now().UTC(), threshold), l, nil
}

// ReclaimIfStale deletes the lock for key only if it is older than threshold,
// letting the caller retry acquisition once. The age check happens inside the
// DELETE so two racing reclaimers cannot both observe-then-delete.
func (s *Service) ReclaimIfStale(ctx context.Context, key string, threshold time.Duration) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM processing_locks
		WHERE lock_key = $1 AND acquired_at < now() - $2::interval`,
		key, threshold,
	)
	if err != nil {
		return false, fmt.Errorf("reclaim lock: %w", err)
	}
	reclaimed := tag.RowsAffected() > 0
	if reclaimed {
		s.logger.Warn("stale lock reclaimed", slog.String("key", key))
	}
	return reclaimed, nil
}

// SweepStale bulk-deletes locks older than threshold. Hygiene only: per-key
// staleness checks during acquisition carry the correctness burden, this just
// cleans up after crashed holders.
func (s *Service) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM processing_locks
		WHERE acquired_at < now() - $1::interval`,
		threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("stale locks swept", slog.Int64("count", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

// ListActive returns all currently held locks, oldest first.
func (s *Service) ListActive(ctx context.Context) ([]Lock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lock_key, owner_key, chat_id, bot_key, message, acquired_at
		FROM processing_locks
		ORDER BY acquired_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.ID, &l.Key, &l.OwnerKey, &l.ChatID, &l.BotKey, &l.Message, &l.AcquiredAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}
