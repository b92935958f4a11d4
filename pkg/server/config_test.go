package server

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), config)

	// The generated file parses back to the defaults
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), reloaded)
}

func TestLoadConfigUnwritableDefaultIsLogged(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(io.Discard) })

	// A dangling symlink: the config looks absent but can't be created
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing", "server.toml"), path))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), config)
	assert.Contains(t, logged.String(), "Could not write default config to "+path)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
[server]
tcp_port = 4000
http_port = 8080

[auth]
unique_usernames = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, config.Server.TCPPort)
	assert.Equal(t, 8080, config.Server.HTTPPort)
	assert.True(t, config.Auth.UniqueUsernames)

	// Untouched keys keep their defaults
	assert.Equal(t, 9090, config.Server.MetricsPort)
	assert.Equal(t, DefaultToken, config.Auth.Token)
	assert.Equal(t, 65536, config.Limits.MaxBodyBytes)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\ntcp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_SERVER_TCP_PORT", "5555")
	t.Setenv("CHAT_SERVER_SSH_PORT", "not-a-number")
	t.Setenv("CHAT_SERVER_DEBUG", "true")
	t.Setenv("CHAT_AUTH_TOKEN", "override")
	t.Setenv("CHAT_AUTH_UNIQUE_USERNAMES", "1")
	t.Setenv("CHAT_LIMITS_OUTBOUND_QUEUE", "16")

	config := applyEnvOverrides(DefaultTOMLConfig())

	assert.Equal(t, 5555, config.Server.TCPPort)
	assert.Equal(t, 0, config.Server.SSHPort, "unparsable values are ignored")
	assert.True(t, config.Server.Debug)
	assert.Equal(t, "override", config.Auth.Token)
	assert.True(t, config.Auth.UniqueUsernames)
	assert.Equal(t, 16, config.Limits.OutboundQueue)
}

func TestToServerConfig(t *testing.T) {
	config := DefaultTOMLConfig()
	config.Server.HTTPPort = 8080
	config.Server.MetricsPort = 0
	config.Auth.TokenHash = "$2a$10$abc"
	config.Limits.MaxHeaderBytes = 0

	cfg := config.ToServerConfig()

	assert.Equal(t, ":1337", cfg.TCPAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.SSHAddr, "port 0 disables the listener")
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "$2a$10$abc", cfg.AuthTokenHash)
	assert.Equal(t, 8192, cfg.Limits.MaxHeaderBytes, "zero limits fall back to defaults")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/.tcpchat/server.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".tcpchat", "server.toml"), got)

	got, err = expandHome("/etc/tcpchat.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/tcpchat.toml", got)
}
