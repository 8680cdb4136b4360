package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/bots"
	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/command"
	"github.com/relaybotio/relaybot/internal/dispatch"
	"github.com/relaybotio/relaybot/internal/forward"
	"github.com/relaybotio/relaybot/internal/identity"
	"github.com/relaybotio/relaybot/internal/logger"
	"github.com/relaybotio/relaybot/internal/session"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// processTimeout bounds background processing of one message, dominated by
// the upstream forward.
const processTimeout = 5 * time.Minute

// WebhookHandler receives platform callbacks, acks them fast, and processes
// messages in the background: platforms retry aggressively when a webhook
// answer is slow, and a forward can take a minute.
type WebhookHandler struct {
	cache       *bots.Cache
	bots        *bots.Service
	registry    *channel.Registry
	coordinator *dispatch.Coordinator
	deliverer   *channel.Deliverer
	sessions    *session.Store
	logger      *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(
	log *slog.Logger,
	cache *bots.Cache,
	botService *bots.Service,
	registry *channel.Registry,
	coordinator *dispatch.Coordinator,
	deliverer *channel.Deliverer,
	sessions *session.Store,
) *WebhookHandler {
	return &WebhookHandler{
		cache:       cache,
		bots:        botService,
		registry:    registry,
		coordinator: coordinator,
		deliverer:   deliverer,
		sessions:    sessions,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts POST /callback/:platform/:bot_key.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/callback/:platform/:bot_key", h.Receive)
}

// Receive authenticates and parses one webhook delivery.
func (h *WebhookHandler) Receive(c echo.Context) error {
	platform := bots.Platform(c.Param("platform"))
	botKey := c.Param("bot_key")

	bot, ok := h.cache.Get(botKey)
	if !ok || bot.Platform != platform {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "unknown bot"})
	}
	adapter, ok := h.registry.Get(platform)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "unsupported platform"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "unreadable body"})
	}

	if err := adapter.VerifyWebhook(bot, c.Request().Header, body); err != nil {
		h.logger.Warn("webhook rejected",
			slog.String("bot_key", botKey),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "verification failed"})
	}

	result, err := adapter.ParseWebhook(bot, body)
	if err != nil {
		h.logger.Warn("webhook parse failed",
			slog.String("bot_key", botKey),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "unparseable payload"})
	}
	if result.Challenge != "" {
		if strings.HasPrefix(result.Challenge, "{") {
			return c.JSONBlob(http.StatusOK, []byte(result.Challenge))
		}
		return c.String(http.StatusOK, result.Challenge)
	}
	if result.Message == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	allowed, err := h.bots.CheckAccess(c.Request().Context(), bot, result.Message.ChatID)
	if err != nil {
		h.logger.Error("access check failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "access check failed"})
	}
	if !allowed {
		h.logger.Debug("chat not allowed",
			slog.String("bot_key", botKey),
			slog.String("chat_id", result.Message.ChatID),
		)
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	go h.process(bot, *result.Message)
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *WebhookHandler) process(bot bots.Bot, msg channel.UnifiedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	log := h.logger.With(
		slog.String("delivery_id", uuid.NewString()),
		slog.String("bot_key", msg.BotKey),
		slog.String("chat_id", msg.ChatID),
	)
	ctx = logger.WithContext(ctx, log)
	log.Debug("processing message", slog.String("platform", string(msg.Platform)))

	// Delivery runs outside the echo middleware chain; a panic in an
	// adapter Send must not crash the process.
	defer func() {
		if r := recover(); r != nil {
			log.Error("message processing panic recovered", slog.Any("panic", r))
		}
	}()

	reply := h.handle(ctx, msg)
	if reply == "" {
		return
	}
	if err := h.deliverer.Deliver(ctx, bot, msg.ChatID, reply); err != nil {
		log.Error("reply delivery failed", slog.Any("error", err))
	}
}

func (h *WebhookHandler) handle(ctx context.Context, msg channel.UnifiedMessage) string {
	ownerKey := identity.EffectiveOwner(msg.SenderID, msg.ChatID, msg.ChatType)
	scope := session.Scope{OwnerKey: ownerKey, ChatID: msg.ChatID, BotKey: msg.BotKey}

	cmd := command.Parse(msg.Text)
	switch cmd.Kind {
	case command.KindNone:
		return h.renderOutcome(h.coordinator.Dispatch(ctx, msg))

	case command.KindList:
		sessions, err := h.sessions.List(ctx, scope, session.DefaultListLimit)
		if err != nil {
			h.logger.Error("session list failed", slog.Any("error", err))
			return "Could not load your sessions. Please try again."
		}
		return command.FormatSessionList(sessions)

	case command.KindReset:
		had, err := h.sessions.Reset(ctx, scope)
		if err != nil {
			h.logger.Error("session reset failed", slog.Any("error", err))
			return "Could not reset the session. Please try again."
		}
		if !had {
			return "No active session. Send a message to start one."
		}
		return "Session reset. Your next message starts a fresh one."

	case command.KindSwitch:
		switched, err := h.sessions.SwitchTo(ctx, scope, cmd.ShortID)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return fmt.Sprintf("No session matches %q. Use /sess to list them.", cmd.ShortID)
		case errors.Is(err, session.ErrAmbiguousShortID):
			return fmt.Sprintf("More than one session matches %q; give a few more characters.", cmd.ShortID)
		case err != nil:
			h.logger.Error("session switch failed", slog.Any("error", err))
			return "Could not switch sessions. Please try again."
		}
		confirmation := fmt.Sprintf("Switched to session %s.", switched.ShortID)
		if cmd.Message == "" {
			return confirmation
		}
		followup := msg
		followup.Text = cmd.Message
		return confirmation + "\n\n" + h.renderOutcome(h.coordinator.Dispatch(ctx, followup))

	default:
		return command.HelpText
	}
}

func (h *WebhookHandler) renderOutcome(out dispatch.Outcome) string {
	switch out.Status {
	case dispatch.StatusCompleted:
		if out.Reply == "" {
			return "The agent finished without a reply."
		}
		return out.Reply

	case dispatch.StatusBusy:
		if !out.BusySince.IsZero() {
			return fmt.Sprintf("Still working on the previous message (started %s ago). Please wait for it to finish.",
				time.Since(out.BusySince).Round(time.Second))
		}
		return "Still working on the previous message. Please wait for it to finish."

	case dispatch.StatusRouteMissing:
		return "No forwarding target is configured for this chat. Ask an admin to add one."

	case dispatch.StatusForwardFailed:
		var upstream *forward.UpstreamError
		switch {
		case errors.Is(out.Err, forward.ErrTimeout):
			return "The agent took too long to respond. Please try again."
		case errors.As(out.Err, &upstream):
			return fmt.Sprintf("The agent returned an error (HTTP %d). Please try again.", upstream.StatusCode)
		default:
			return "Could not reach the agent endpoint. Please try again later."
		}

	default:
		return "Something went wrong on our side. Please try again."
	}
}
