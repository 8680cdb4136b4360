// Package db provides PostgreSQL connection, migration, and pg type helpers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybotio/relaybot/internal/config"
)

// Open creates a pgx connection pool from the given Postgres configuration.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, DSN(cfg))
}
