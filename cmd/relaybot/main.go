// Command relaybot runs the dispatch coordination service bridging IM
// platform webhooks to downstream agent endpoints.
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relaybotio/relaybot/cmd/relaybot/modules"
	reldb "github.com/relaybotio/relaybot/db"
	"github.com/relaybotio/relaybot/internal/config"
	"github.com/relaybotio/relaybot/internal/db"
	"github.com/relaybotio/relaybot/internal/logger"
	"github.com/relaybotio/relaybot/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "relaybot",
		Short:   "Bridge IM platform webhooks to agent endpoints",
		Version: version.Info(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default CONFIG_PATH env, then ./config.toml)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	app := fx.New(
		fx.Supply(modules.ConfigPath(configPath)),
		modules.InfraModule,
		modules.DomainModule,
		modules.ChannelModule,
		modules.ServerModule,
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
	)
	app.Run()
	return nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|version|force N]",
		Short: "Apply or roll back database migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			migrations, err := fs.Sub(reldb.MigrationsFS, "migrations")
			if err != nil {
				return err
			}
			return db.RunMigrate(logger.L, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}
