package modules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/config"
	"github.com/relaybotio/relaybot/internal/dispatch"
	"github.com/relaybotio/relaybot/internal/forward"
	"github.com/relaybotio/relaybot/internal/forwardlog"
	"github.com/relaybotio/relaybot/internal/lock"
	"github.com/relaybotio/relaybot/internal/projects"
	"github.com/relaybotio/relaybot/internal/routing"
	"github.com/relaybotio/relaybot/internal/session"
)

// DomainModule provides the dispatch pipeline: sessions, locks, routing,
// forwarding, and the coordinator tying them together.
var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		session.NewStore,
		lock.NewService,
		provideSweeper,
		projects.NewService,
		bots.NewService,
		bots.NewCache,
		forwardlog.NewService,
		forward.NewForwarder,
		provideResolver,
		provideCoordinator,
	),
	fx.Invoke(
		startSweeper,
		warmBotCache,
	),
)

func provideResolver(log *slog.Logger, projectService *projects.Service, botService *bots.Service) *routing.Resolver {
	return routing.NewResolver(log, projectService, botService)
}

func provideCoordinator(
	log *slog.Logger,
	cfg config.Config,
	sessions *session.Store,
	locks *lock.Service,
	resolver *routing.Resolver,
	forwarder *forward.Forwarder,
	audit *forwardlog.Service,
) *dispatch.Coordinator {
	threshold := time.Duration(cfg.Lock.StaleSeconds) * time.Second
	return dispatch.NewCoordinator(log, sessions, locks, resolver, forwarder, audit, threshold)
}

func provideSweeper(log *slog.Logger, cfg config.Config, service *lock.Service) (*lock.Sweeper, error) {
	interval, err := time.ParseDuration(cfg.Lock.SweepInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid lock.sweep_interval %q: %w", cfg.Lock.SweepInterval, err)
	}
	threshold := time.Duration(cfg.Lock.StaleSeconds) * time.Second
	return lock.NewSweeper(log, service, threshold, interval), nil
}

func startSweeper(lc fx.Lifecycle, sweeper *lock.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sweeper.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func warmBotCache(lc fx.Lifecycle, cache *bots.Cache) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return cache.Reload(ctx)
		},
	})
}
