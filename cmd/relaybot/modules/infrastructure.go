package modules

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/relaybotio/relaybot/internal/config"
	"github.com/relaybotio/relaybot/internal/db"
	"github.com/relaybotio/relaybot/internal/logger"
)

// InfraModule provides configuration, logging, and the database pool.
var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideDBConn,
	),
)

// ConfigPath is the config file location passed down from the CLI. An empty
// value falls back to the CONFIG_PATH environment variable, then the default.
type ConfigPath string

func provideConfig(path ConfigPath) (config.Config, error) {
	p := string(path)
	if p == "" {
		p = os.Getenv("CONFIG_PATH")
	}
	return config.Load(p)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			log.Info("database connected",
				slog.String("host", cfg.Postgres.Host),
				slog.String("database", cfg.Postgres.Database),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}
