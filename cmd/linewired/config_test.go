package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linewired.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7601, cfg.Listen.TCPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Token)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
token = "sesame"
heartbeat_seconds = 30
log_level = "debug"

[listen]
tcp_port = 9000
ws_port = 9001
unix_socket = "/tmp/linewired.sock"

[nats]
url = "nats://localhost:4222"
subject = "linewire.custom"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sesame", cfg.Token)
	assert.Equal(t, 30, cfg.HeartbeatSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Listen.TCPPort)
	assert.Equal(t, 9001, cfg.Listen.WSPort)
	assert.Equal(t, "/tmp/linewired.sock", cfg.Listen.UnixSocket)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "linewire.custom", cfg.NATS.Subject)
}

func TestLoadConfigEnvOverridesToken(t *testing.T) {
	path := writeConfig(t, `
token = "from-file"

[listen]
tcp_port = 9000
`)
	t.Setenv("LINEWIRED_TOKEN", "from-env")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
}

func TestLoadConfigRejectsNoListeners(t *testing.T) {
	path := writeConfig(t, `
[listen]
tcp_port = 0
`)

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no listeners")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `this is not toml = = =`)

	_, err := loadConfig(path)
	require.Error(t, err)
}
