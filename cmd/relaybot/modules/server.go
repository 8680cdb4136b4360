package modules

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/relaybotio/relaybot/internal/config"
	"github.com/relaybotio/relaybot/internal/handlers"
	"github.com/relaybotio/relaybot/internal/server"
	"github.com/relaybotio/relaybot/internal/version"
)

// ServerModule provides the HTTP handlers and the echo server, and starts
// listening once the rest of the graph is up.
var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(handlers.NewAuthHandler),
		provideServerHandler(handlers.NewWebhookHandler),
		provideServerHandler(handlers.NewBotsHandler),
		provideServerHandler(handlers.NewProjectsHandler),
		provideServerHandler(handlers.NewLocksHandler),
		provideServerHandler(handlers.NewLogsHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

func provideServerHandler(handler any) any {
	return fx.Annotate(
		handler,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting relaybot", slog.String("version", version.Info()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
