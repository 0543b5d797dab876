// ABOUTME: Configuration loading for the ladle CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
	Chat    ChatConfig    `toml:"chat"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token  string `toml:"token"`
	APIKey string `toml:"api_key"`
}

type ChatConfig struct {
	SessionKey string `toml:"session_key"`
	Stream     bool   `toml:"stream"`
}

// configPath returns the CLI config location.
// Priority: LADLE_CLI_CONFIG > XDG_CONFIG_HOME/ladle/cli.toml > ~/.config/ladle/cli.toml
func configPath() string {
	if envPath := os.Getenv("LADLE_CLI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cli.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "ladle", "cli.toml")
}

// loadConfig reads the CLI config, tolerating a missing file, then applies
// environment overrides.
func loadConfig() (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath())
	if err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if url := os.Getenv("LADLE_URL"); url != "" {
		cfg.Gateway.URL = url
	}
	if token := os.Getenv("LADLE_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
	if key := os.Getenv("LADLE_API_KEY"); key != "" {
		cfg.Auth.APIKey = key
	}

	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = "http://localhost:8080"
	}
	cfg.Gateway.URL = strings.TrimSuffix(cfg.Gateway.URL, "/")

	if cfg.Chat.SessionKey == "" {
		cfg.Chat.SessionKey = "default"
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
