package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/auth"
	"github.com/relaybotio/relaybot/internal/config"
)

// AuthHandler exchanges admin credentials for a JWT.
type AuthHandler struct {
	admin  config.AdminConfig
	secret string
	ttl    time.Duration
	logger *slog.Logger
}

// NewAuthHandler creates the login handler.
func NewAuthHandler(log *slog.Logger, cfg config.Config) *AuthHandler {
	ttl, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{
		admin:  cfg.Admin,
		secret: cfg.Auth.JWTSecret,
		ttl:    ttl,
		logger: log.With(slog.String("handler", "auth")),
	}
}

// Register mounts POST /auth/login.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login validates the configured admin credentials and returns a token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.admin.Password)) == 1
	if !userOK || !passOK {
		h.logger.Warn("login rejected", slog.String("username", req.Username))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid credentials"})
	}
	token, err := auth.IssueToken(h.secret, req.Username, h.ttl)
	if err != nil {
		h.logger.Error("token issue failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "could not issue token"})
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.ttl),
	})
}
