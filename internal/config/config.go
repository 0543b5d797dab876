// ABOUTME: Configuration loading and parsing for ladle-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ladle-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Skills    SkillsConfig    `yaml:"skills"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// APIKeys maps sha256 hex digests of sk_* keys to user IDs.
// Users maps user IDs to bcrypt password hashes for password login.
type AuthConfig struct {
	JWTSecret string            `yaml:"jwt_secret"`
	APIKeys   map[string]string `yaml:"api_keys"`
	Users     map[string]string `yaml:"users"`
}

// AgentConfig holds settings for the agent loop behind the gateway
type AgentConfig struct {
	DefaultSessionKey string `yaml:"default_session_key"`
	MaxMessageLength  int    `yaml:"max_message_length"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// SkillsConfig holds skill discovery configuration
type SkillsConfig struct {
	Paths []string `yaml:"paths"`
}

// RateLimitConfig holds per-minute request budgets for rate limited surfaces
type RateLimitConfig struct {
	Enabled          bool `yaml:"enabled"`
	AuthPerMinute    int  `yaml:"auth_per_minute"`
	ChatPerMinute    int  `yaml:"chat_per_minute"`
	GeneralPerMinute int  `yaml:"general_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default creates a configuration suitable for local development and tests.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: ":memory:"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.DefaultSessionKey == "" {
		c.Agent.DefaultSessionKey = "default"
	}
	if c.Agent.MaxMessageLength == 0 {
		c.Agent.MaxMessageLength = 100_000
	}
	if c.Agent.RequestTimeout == 0 && c.Agent.RequestTimeoutRaw == "" {
		c.Agent.RequestTimeout = 60 * time.Second
	}
	if c.RateLimit.AuthPerMinute == 0 {
		c.RateLimit.AuthPerMinute = 5
	}
	if c.RateLimit.ChatPerMinute == 0 {
		c.RateLimit.ChatPerMinute = 60
	}
	if c.RateLimit.GeneralPerMinute == 0 {
		c.RateLimit.GeneralPerMinute = 100
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agent.RequestTimeout < 0 {
		return fmt.Errorf("agent.request_timeout must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.RequestTimeoutRaw != "" {
		cfg.Agent.RequestTimeout, err = time.ParseDuration(cfg.Agent.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agent.RequestTimeoutRaw, err)
		}
	}

	return nil
}
