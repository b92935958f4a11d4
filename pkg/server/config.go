package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Auth   AuthSection   `toml:"auth"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort     int    `toml:"tcp_port"`
	HTTPPort    int    `toml:"http_port"`
	SSHPort     int    `toml:"ssh_port"`
	SSHHostKey  string `toml:"ssh_host_key"`
	MetricsPort int    `toml:"metrics_port"`
	Debug       bool   `toml:"debug"`
}

type AuthSection struct {
	Token           string `toml:"token"`
	TokenHash       string `toml:"token_hash"`
	UniqueUsernames bool   `toml:"unique_usernames"`
}

type LimitsSection struct {
	MaxHeaderBytes int `toml:"max_header_bytes"`
	MaxBodyBytes   int `toml:"max_body_bytes"`
	OutboundQueue  int `toml:"outbound_queue"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:     1337,
			SSHHostKey:  "~/.tcpchat/ssh_host_key",
			MetricsPort: 9090,
		},
		Auth: AuthSection{
			Token: DefaultToken,
		},
		Limits: LimitsSection{
			MaxHeaderBytes: 8192,
			MaxBodyBytes:   65536,
			OutboundQueue:  DefaultOutboundQueue,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// Can't write (read-only home, permissions); run on defaults anyway
			log.Printf("Could not write default config to %s: %v", path, err)
		}
		return applyEnvOverrides(config), nil
	}

	// Keys missing from the file keep their defaults
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: CHAT_SECTION_KEY
// Example: CHAT_SERVER_TCP_PORT=4000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	envInt("CHAT_SERVER_TCP_PORT", &config.Server.TCPPort)
	envInt("CHAT_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	envInt("CHAT_SERVER_SSH_PORT", &config.Server.SSHPort)
	if val := os.Getenv("CHAT_SERVER_SSH_HOST_KEY"); val != "" {
		config.Server.SSHHostKey = val
	}
	envInt("CHAT_SERVER_METRICS_PORT", &config.Server.MetricsPort)
	envBool("CHAT_SERVER_DEBUG", &config.Server.Debug)

	// Auth section
	if val := os.Getenv("CHAT_AUTH_TOKEN"); val != "" {
		config.Auth.Token = val
	}
	if val := os.Getenv("CHAT_AUTH_TOKEN_HASH"); val != "" {
		config.Auth.TokenHash = val
	}
	envBool("CHAT_AUTH_UNIQUE_USERNAMES", &config.Auth.UniqueUsernames)

	// Limits section
	envInt("CHAT_LIMITS_MAX_HEADER_BYTES", &config.Limits.MaxHeaderBytes)
	envInt("CHAT_LIMITS_MAX_BODY_BYTES", &config.Limits.MaxBodyBytes)
	envInt("CHAT_LIMITS_OUTBOUND_QUEUE", &config.Limits.OutboundQueue)

	return config
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# CHAT/1.0 Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# CHAT_SECTION_KEY (e.g., CHAT_SERVER_TCP_PORT=4000)

[server]
# Port for raw TCP connections
tcp_port = 1337

# Port for the WebSocket endpoint (/ws)
# Set to 0 to disable
http_port = 0

# Port for SSH connections (any client key is accepted; AUTH still applies)
# Set to 0 to disable
ssh_port = 0

# Path to SSH host key file, generated on first start if missing
ssh_host_key = "~/.tcpchat/ssh_host_key"

# Port for /metrics and /health (internal only - never expose publicly!)
# Set to 0 to disable
metrics_port = 9090

# Write debug logging to stderr
debug = false

[auth]
# Shared token every client presents in AUTH
token = "secret123"

# bcrypt hash of the token; when set it takes precedence over token
# Uncomment to use:
# token_hash = "$2a$10$..."

# Reject AUTH for a username another connection already holds
unique_usernames = false

[limits]
# Largest header block accepted, in bytes
max_header_bytes = 8192

# Largest Content-Length accepted, in bytes
max_body_bytes = 65536

# Frames queued per connection before it is treated as failed
outbound_queue = 256
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	cfg.TCPAddr = portAddr(c.Server.TCPPort)
	cfg.HTTPAddr = portAddr(c.Server.HTTPPort)
	cfg.SSHAddr = portAddr(c.Server.SSHPort)
	cfg.MetricsAddr = portAddr(c.Server.MetricsPort)

	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}

	if c.Auth.Token != "" {
		cfg.AuthToken = c.Auth.Token
	}
	cfg.AuthTokenHash = c.Auth.TokenHash
	cfg.UniqueUsernames = c.Auth.UniqueUsernames

	if c.Limits.MaxHeaderBytes > 0 {
		cfg.Limits.MaxHeaderBytes = c.Limits.MaxHeaderBytes
	}
	if c.Limits.MaxBodyBytes > 0 {
		cfg.Limits.MaxBodyBytes = c.Limits.MaxBodyBytes
	}
	if c.Limits.OutboundQueue > 0 {
		cfg.Limits.OutboundQueue = c.Limits.OutboundQueue
	}

	return cfg
}

// portAddr maps a configured port to a listen address; 0 disables the listener
func portAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}
