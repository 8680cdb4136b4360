package modules

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/channel/adapters/discord"
	"github.com/relaybotio/relaybot/internal/channel/adapters/lark"
	"github.com/relaybotio/relaybot/internal/channel/adapters/slack"
	"github.com/relaybotio/relaybot/internal/channel/adapters/telegram"
)

// ChannelModule provides the platform adapter registry and the outbound
// deliverer.
var ChannelModule = fx.Module(
	"channel",
	fx.Provide(
		provideRegistry,
		channel.NewDeliverer,
	),
)

func provideRegistry(log *slog.Logger) *channel.Registry {
	return channel.MustRegistry(
		telegram.NewAdapter(log),
		slack.NewAdapter(log),
		discord.NewAdapter(log),
		lark.NewAdapter(log),
	)
}
