package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err, "a missing config file should fall back to defaults")

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultPGPort, cfg.Postgres.Port)
	assert.Equal(t, DefaultForwardTimeout, cfg.Forward.TimeoutSeconds)
	assert.Equal(t, DefaultStaleSeconds, cfg.Lock.StaleSeconds)
	assert.Equal(t, DefaultSweepInterval, cfg.Lock.SweepInterval)
	assert.Equal(t, DefaultJWTExpiresIn, cfg.Auth.JWTExpiresIn)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[server]
addr = ":9090"

[postgres]
host = "db.internal"
port = 5433
database = "relay"

[forward]
timeout_seconds = 120

[lock]
stale_seconds = 600
sweep_interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "relay", cfg.Postgres.Database)
	assert.Equal(t, 120, cfg.Forward.TimeoutSeconds)
	assert.Equal(t, 600, cfg.Lock.StaleSeconds)
	assert.Equal(t, "30s", cfg.Lock.SweepInterval)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, DefaultPGUser, cfg.Postgres.User)
	assert.Equal(t, DefaultJWTExpiresIn, cfg.Auth.JWTExpiresIn)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("server = not toml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
