package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/bots"
)

// BotsHandler is the admin CRUD surface for chatbot registrations.
type BotsHandler struct {
	service *bots.Service
	cache   *bots.Cache
	logger  *slog.Logger
}

// NewBotsHandler creates the bots admin handler.
func NewBotsHandler(log *slog.Logger, service *bots.Service, cache *bots.Cache) *BotsHandler {
	return &BotsHandler{
		service: service,
		cache:   cache,
		logger:  log.With(slog.String("handler", "bots")),
	}
}

// Register mounts the /api/bots routes.
func (h *BotsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/bots")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:bot_key", h.Get)
	g.PUT("/:bot_key", h.Update)
	g.DELETE("/:bot_key", h.Delete)
	g.GET("/:bot_key/rules", h.ListRules)
	g.POST("/:bot_key/rules", h.AddRule)
	g.DELETE("/:bot_key/rules", h.RemoveRule)
}

// List returns all registered bots.
func (h *BotsHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list bots failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "list failed"})
	}
	return c.JSON(http.StatusOK, items)
}

// Get returns one bot by key.
func (h *BotsHandler) Get(c echo.Context) error {
	bot, err := h.service.GetByKey(c.Request().Context(), c.Param("bot_key"))
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "lookup failed"})
	}
	return c.JSON(http.StatusOK, bot)
}

// Create registers a bot and refreshes the webhook cache.
func (h *BotsHandler) Create(c echo.Context) error {
	var req bots.CreateBotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	bot, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, bots.ErrExists) {
			return c.JSON(http.StatusConflict, ErrorResponse{Message: "bot key already registered"})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	h.reloadCache(c)
	return c.JSON(http.StatusCreated, bot)
}

// Update applies partial changes and refreshes the webhook cache.
func (h *BotsHandler) Update(c echo.Context) error {
	var req bots.UpdateBotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	bot, err := h.service.Update(c.Request().Context(), c.Param("bot_key"), req)
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "update failed"})
	}
	h.reloadCache(c)
	return c.JSON(http.StatusOK, bot)
}

// Delete removes a bot and refreshes the webhook cache.
func (h *BotsHandler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), c.Param("bot_key")); err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "delete failed"})
	}
	h.reloadCache(c)
	return c.NoContent(http.StatusNoContent)
}

type accessRuleRequest struct {
	ChatID   string        `json:"chat_id"`
	RuleType bots.RuleType `json:"rule_type"`
	Note     string        `json:"note,omitempty"`
}

// ListRules returns a bot's access rules.
func (h *BotsHandler) ListRules(c echo.Context) error {
	rules, err := h.service.ListRules(c.Request().Context(), c.Param("bot_key"))
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "list failed"})
	}
	return c.JSON(http.StatusOK, rules)
}

// AddRule adds a whitelist or blacklist entry.
func (h *BotsHandler) AddRule(c echo.Context) error {
	var req accessRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	err := h.service.AddRule(c.Request().Context(), c.Param("bot_key"), req.ChatID, req.RuleType, req.Note)
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveRule deletes a whitelist or blacklist entry.
func (h *BotsHandler) RemoveRule(c echo.Context) error {
	var req accessRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	err := h.service.RemoveRule(c.Request().Context(), c.Param("bot_key"), req.ChatID, req.RuleType)
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "bot not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "remove failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BotsHandler) reloadCache(c echo.Context) {
	if err := h.cache.Reload(c.Request().Context()); err != nil {
		h.logger.Error("bot cache reload failed", slog.Any("error", err))
	}
}
