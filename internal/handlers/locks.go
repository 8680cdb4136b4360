package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/lock"
)

// LocksHandler exposes currently held processing locks for operators, with a
// force-release escape hatch for wedged conversations.
type LocksHandler struct {
	service *lock.Service
	logger  *slog.Logger
}

// NewLocksHandler creates the locks admin handler.
func NewLocksHandler(log *slog.Logger, service *lock.Service) *LocksHandler {
	return &LocksHandler{
		service: service,
		logger:  log.With(slog.String("handler", "locks")),
	}
}

// Register mounts the /api/locks routes.
func (h *LocksHandler) Register(e *echo.Echo) {
	e.GET("/api/locks", h.List)
	e.DELETE("/api/locks/:key", h.Release)
}

type lockView struct {
	Key        string `json:"key"`
	OwnerKey   string `json:"owner_key"`
	ChatID     string `json:"chat_id"`
	BotKey     string `json:"bot_key"`
	Message    string `json:"message,omitempty"`
	AcquiredAt string `json:"acquired_at"`
	AgeSeconds int64  `json:"age_seconds"`
}

// List returns all held locks, oldest first.
func (h *LocksHandler) List(c echo.Context) error {
	locks, err := h.service.ListActive(c.Request().Context())
	if err != nil {
		h.logger.Error("list locks failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "list failed"})
	}
	views := make([]lockView, 0, len(locks))
	for _, l := range locks {
		views = append(views, lockView{
			Key:        l.Key,
			OwnerKey:   l.OwnerKey,
			ChatID:     l.ChatID,
			BotKey:     l.BotKey,
			Message:    l.Message,
			AcquiredAt: l.AcquiredAt.UTC().Format("2006-01-02T15:04:05Z"),
			AgeSeconds: int64(l.Age().Seconds()),
		})
	}
	return c.JSON(http.StatusOK, views)
}

// Release force-deletes one lock.
func (h *LocksHandler) Release(c echo.Context) error {
	key := c.Param("key")
	released, err := h.service.Release(c.Request().Context(), key)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "release failed"})
	}
	if !released {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "lock not held"})
	}
	h.logger.Warn("lock force released", slog.String("key", key))
	return c.NoContent(http.StatusNoContent)
}
