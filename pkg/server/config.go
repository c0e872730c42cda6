package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Auth   AuthSection   `toml:"auth"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	HTTPPort       int      `toml:"http_port"`
	MetricsPort    int      `toml:"metrics_port"`
	DatabasePath   string   `toml:"database_path"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type AuthSection struct {
	JWTSecret       string `toml:"jwt_secret"`
	SessionTokenTTL string `toml:"session_token_ttl"`
	AdminTokenTTL   string `toml:"admin_token_ttl"`
	AdminUsername   string `toml:"admin_username"`
	AdminPassword   string `toml:"admin_password"`
}

type LimitsSection struct {
	MessageRateLimit  int `toml:"message_rate_limit"`
	MaxMessageLength  int `toml:"max_message_length"`
	MaxUsernameLength int `toml:"max_username_length"`
	RealtimeBuffer    int `toml:"realtime_buffer"`
	MaxSubscriptions  int `toml:"max_subscriptions"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:       8080,
			MetricsPort:    9090,
			DatabasePath:   "~/.chorus/chorus.db",
			AllowedOrigins: []string{"*"},
		},
		Auth: AuthSection{
			SessionTokenTTL: "168h",
			AdminTokenTTL:   "1h",
			AdminUsername:   "admin",
		},
		Limits: LimitsSection{
			MessageRateLimit:  30,
			MaxMessageLength:  4000,
			MaxUsernameLength: 32,
			RealtimeBuffer:    64,
			MaxSubscriptions:  16,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides. A .env file next to the config
// file or in the working directory is loaded first; it never replaces
// variables that are already set.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// Unwritable location, run on defaults
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
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

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: CHORUS_SECTION_KEY
// Example: CHORUS_SERVER_HTTP_PORT=8080
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	envInt("CHORUS_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	envInt("CHORUS_SERVER_METRICS_PORT", &config.Server.MetricsPort)
	envString("CHORUS_SERVER_DATABASE_PATH", &config.Server.DatabasePath)
	if val := os.Getenv("CHORUS_SERVER_ALLOWED_ORIGINS"); val != "" {
		origins := strings.Split(val, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		config.Server.AllowedOrigins = origins
	}

	// Auth section
	envString("CHORUS_AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	envString("CHORUS_AUTH_SESSION_TOKEN_TTL", &config.Auth.SessionTokenTTL)
	envString("CHORUS_AUTH_ADMIN_TOKEN_TTL", &config.Auth.AdminTokenTTL)
	envString("CHORUS_AUTH_ADMIN_USERNAME", &config.Auth.AdminUsername)
	envString("CHORUS_AUTH_ADMIN_PASSWORD", &config.Auth.AdminPassword)

	// Limits section
	envInt("CHORUS_LIMITS_MESSAGE_RATE_LIMIT", &config.Limits.MessageRateLimit)
	envInt("CHORUS_LIMITS_MAX_MESSAGE_LENGTH", &config.Limits.MaxMessageLength)
	envInt("CHORUS_LIMITS_MAX_USERNAME_LENGTH", &config.Limits.MaxUsernameLength)
	envInt("CHORUS_LIMITS_REALTIME_BUFFER", &config.Limits.RealtimeBuffer)
	envInt("CHORUS_LIMITS_MAX_SUBSCRIPTIONS", &config.Limits.MaxSubscriptions)

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Chorus Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# CHORUS_SECTION_KEY (e.g., CHORUS_SERVER_HTTP_PORT=8080)
# A .env file next to this file is read before the overrides are applied.

[server]
# Port for the public HTTP API (auth, rest, functions, realtime)
http_port = 8080

# Port for the internal metrics server (/metrics, /health)
# Never expose this publicly. Set to 0 to disable.
metrics_port = 9090

# Path to SQLite database file
database_path = "~/.chorus/chorus.db"

# Origins allowed to call the REST API from a browser
allowed_origins = ["*"]

[auth]
# Secret used to sign session and admin tokens (HS256)
# Leave empty to generate a random secret on every start; tokens then do not
# survive a restart.
# jwt_secret = "change-me"

# Lifetime of a user session token
session_token_ttl = "168h"

# Lifetime of a moderation console token
admin_token_ttl = "1h"

# Moderation console account, created or updated on startup when a password is set
admin_username = "admin"
# admin_password = "change-me"

[limits]
# Maximum messages per minute per user (channel messages and DMs)
message_rate_limit = 30

# Maximum message length in characters
max_message_length = 4000

# Maximum username length in characters
max_username_length = 32

# Realtime events buffered per websocket before new events are dropped
realtime_buffer = 64

# Maximum realtime subscriptions per websocket
# max_subscriptions = 16
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() (ServerConfig, error) {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	cfg.MetricsPort = c.Server.MetricsPort
	if len(c.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.Server.AllowedOrigins
	}

	cfg.JWTSecret = c.Auth.JWTSecret
	if c.Auth.SessionTokenTTL != "" {
		ttl, err := time.ParseDuration(c.Auth.SessionTokenTTL)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid session_token_ttl: %w", err)
		}
		cfg.SessionTokenTTL = ttl
	}
	if c.Auth.AdminTokenTTL != "" {
		ttl, err := time.ParseDuration(c.Auth.AdminTokenTTL)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid admin_token_ttl: %w", err)
		}
		cfg.AdminTokenTTL = ttl
	}
	if strings.TrimSpace(c.Auth.AdminUsername) != "" {
		cfg.AdminUsername = strings.TrimSpace(c.Auth.AdminUsername)
	}
	cfg.AdminPassword = c.Auth.AdminPassword

	if c.Limits.MessageRateLimit != 0 {
		cfg.MessageRateLimit = c.Limits.MessageRateLimit
	}
	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.MaxUsernameLength != 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}
	if c.Limits.RealtimeBuffer != 0 {
		cfg.RealtimeBuffer = c.Limits.RealtimeBuffer
	}
	if c.Limits.MaxSubscriptions != 0 {
		cfg.MaxSubscriptions = c.Limits.MaxSubscriptions
	}

	return cfg, nil
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}
