package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/relaybotio/relaybot/internal/config"
)

func loginRequestFor(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func testAuthHandler() *AuthHandler {
	cfg := config.Config{
		Admin: config.AdminConfig{Username: "admin", Password: "pw-1"},
		Auth:  config.AuthConfig{JWTSecret: "test-secret", JWTExpiresIn: "1h"},
	}
	return NewAuthHandler(slog.Default(), cfg)
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()
	h := testAuthHandler()
	c, rec := loginRequestFor(t, `{"username":"admin","password":"pw-1"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()
	h := testAuthHandler()
	for _, body := range []string{
		`{"username":"admin","password":"wrong"}`,
		`{"username":"other","password":"pw-1"}`,
	} {
		c, rec := loginRequestFor(t, body)
		if err := h.Login(c); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d for %s", rec.Code, body)
		}
	}
}
