package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/forwardlog"
)

// LogsHandler exposes the forward audit trail.
type LogsHandler struct {
	service *forwardlog.Service
	logger  *slog.Logger
}

// NewLogsHandler creates the forward log handler.
func NewLogsHandler(log *slog.Logger, service *forwardlog.Service) *LogsHandler {
	return &LogsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "logs")),
	}
}

// Register mounts the /api/forward-logs route.
func (h *LogsHandler) Register(e *echo.Echo) {
	e.GET("/api/forward-logs", h.List)
}

// List returns recent forward attempts. ?errors=true filters to failures;
// ?bot_key= filters to one bot; ?limit= caps the result.
func (h *LogsHandler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ctx := c.Request().Context()

	var (
		entries []forwardlog.Entry
		err     error
	)
	switch {
	case c.QueryParam("errors") == "true":
		entries, err = h.service.Errors(ctx, limit)
	case c.QueryParam("bot_key") != "":
		entries, err = h.service.ForBot(ctx, c.QueryParam("bot_key"), limit)
	default:
		entries, err = h.service.Recent(ctx, limit)
	}
	if err != nil {
		h.logger.Error("list forward logs failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "list failed"})
	}
	return c.JSON(http.StatusOK, entries)
}
