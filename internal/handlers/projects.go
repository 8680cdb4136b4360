package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/projects"
)

// ProjectsHandler is the admin CRUD surface for per-conversation projects.
// Projects are scoped by (bot_key, chat_id), carried as query parameters.
type ProjectsHandler struct {
	service *projects.Service
	logger  *slog.Logger
}

// NewProjectsHandler creates the projects admin handler.
func NewProjectsHandler(log *slog.Logger, service *projects.Service) *ProjectsHandler {
	return &ProjectsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "projects")),
	}
}

// Register mounts the /api/projects routes.
func (h *ProjectsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/projects")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PUT("/:project_id", h.Update)
	g.DELETE("/:project_id", h.Delete)
	g.POST("/:project_id/default", h.SetDefault)
}

func scopeParams(c echo.Context) (botKey, chatID string, ok bool) {
	botKey = c.QueryParam("bot_key")
	chatID = c.QueryParam("chat_id")
	return botKey, chatID, botKey != "" && chatID != ""
}

// List returns all projects for one conversation scope.
func (h *ProjectsHandler) List(c echo.Context) error {
	botKey, chatID, ok := scopeParams(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bot_key and chat_id are required"})
	}
	items, err := h.service.List(c.Request().Context(), botKey, chatID)
	if err != nil {
		h.logger.Error("list projects failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "list failed"})
	}
	return c.JSON(http.StatusOK, items)
}

// Create registers a project.
func (h *ProjectsHandler) Create(c echo.Context) error {
	var req projects.CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	p, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, projects.ErrExists) {
			return c.JSON(http.StatusConflict, ErrorResponse{Message: "project already exists for this chat"})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusCreated, p)
}

// Update applies partial changes to a project.
func (h *ProjectsHandler) Update(c echo.Context) error {
	botKey, chatID, ok := scopeParams(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bot_key and chat_id are required"})
	}
	var req projects.UpdateProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	p, err := h.service.Update(c.Request().Context(), botKey, chatID, c.Param("project_id"), req)
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "project not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "update failed"})
	}
	return c.JSON(http.StatusOK, p)
}

// Delete removes a project.
func (h *ProjectsHandler) Delete(c echo.Context) error {
	botKey, chatID, ok := scopeParams(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bot_key and chat_id are required"})
	}
	err := h.service.Delete(c.Request().Context(), botKey, chatID, c.Param("project_id"))
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "project not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// SetDefault marks a project as the scope default.
func (h *ProjectsHandler) SetDefault(c echo.Context) error {
	botKey, chatID, ok := scopeParams(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bot_key and chat_id are required"})
	}
	err := h.service.SetDefault(c.Request().Context(), botKey, chatID, c.Param("project_id"))
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Message: "project not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "set default failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
