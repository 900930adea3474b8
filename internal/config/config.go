// ABOUTME: Configuration loading and parsing for the deskchat engine.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete deskchat configuration.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	User     UserConfig     `yaml:"user"`
	Chat     ChatConfig     `yaml:"chat"`
	Stream   StreamConfig   `yaml:"stream"`
	Fallback FallbackConfig `yaml:"fallback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig holds the remote chat service endpoints.
type GatewayConfig struct {
	WSURL   string `yaml:"ws_url"`
	HTTPURL string `yaml:"http_url"`
}

// UserConfig identifies the local user on outbound messages.
type UserConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

// ChatConfig holds conversation-level knobs.
type ChatConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// StreamConfig holds streaming-connection timing and backoff knobs.
type StreamConfig struct {
	KeepAliveInterval time.Duration `yaml:"-"`
	BaseDelay         time.Duration `yaml:"-"`
	MaxDelay          time.Duration `yaml:"-"`
	Growth            float64       `yaml:"reconnect_growth"`
	MaxAttempts       int           `yaml:"max_attempts_before_disable"`

	// Raw string values for YAML unmarshaling
	KeepAliveIntervalRaw string `yaml:"keepalive_interval"`
	BaseDelayRaw         string `yaml:"reconnect_base_delay"`
	MaxDelayRaw          string `yaml:"reconnect_max_delay"`
}

// FallbackConfig holds the request-channel timeout.
type FallbackConfig struct {
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every knob at its default, pointed at
// the given gateway base (host:port or full URL pair left to the caller).
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			WSURL:   "ws://localhost:8080/ws/chat",
			HTTPURL: "http://localhost:8080",
		},
		User: UserConfig{ID: "local-user", Name: "Trader"},
		Chat: ChatConfig{HistoryLimit: 50},
		Stream: StreamConfig{
			KeepAliveInterval: 30 * time.Second,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			Growth:            2,
			MaxAttempts:       5,
		},
		Fallback: FallbackConfig{Timeout: 5 * time.Minute},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values. Missing knobs keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Gateway.WSURL == "" {
		return fmt.Errorf("gateway.ws_url is required")
	}
	if c.Gateway.HTTPURL == "" {
		return fmt.Errorf("gateway.http_url is required")
	}
	if c.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	if c.Stream.Growth < 1 {
		return fmt.Errorf("stream.reconnect_growth must be >= 1")
	}
	if c.Stream.MaxAttempts < 1 {
		return fmt.Errorf("stream.max_attempts_before_disable must be >= 1")
	}
	if c.Chat.HistoryLimit < 1 {
		return fmt.Errorf("chat.history_limit must be >= 1")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Stream.KeepAliveIntervalRaw != "" {
		cfg.Stream.KeepAliveInterval, err = time.ParseDuration(cfg.Stream.KeepAliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing keepalive_interval %q: %w", cfg.Stream.KeepAliveIntervalRaw, err)
		}
	}

	if cfg.Stream.BaseDelayRaw != "" {
		cfg.Stream.BaseDelay, err = time.ParseDuration(cfg.Stream.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_base_delay %q: %w", cfg.Stream.BaseDelayRaw, err)
		}
	}

	if cfg.Stream.MaxDelayRaw != "" {
		cfg.Stream.MaxDelay, err = time.ParseDuration(cfg.Stream.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_max_delay %q: %w", cfg.Stream.MaxDelayRaw, err)
		}
	}

	if cfg.Fallback.TimeoutRaw != "" {
		cfg.Fallback.Timeout, err = time.ParseDuration(cfg.Fallback.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing fallback timeout %q: %w", cfg.Fallback.TimeoutRaw, err)
		}
	}

	return nil
}
