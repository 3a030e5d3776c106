// Package config provides configuration loading for the StormStack Relay Bot.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// StoreBackend selects where conversation history is persisted.
type StoreBackend string

const (
	StoreREST   StoreBackend = "rest"
	StoreRedis  StoreBackend = "redis"
	StoreMemory StoreBackend = "memory"
)

// KeyMode selects how a Slack message maps to a conversation.
type KeyMode string

const (
	KeyChannel     KeyMode = "channel"
	KeyUserChannel KeyMode = "user_channel"
	KeyThread      KeyMode = "thread"
)

// Config holds all configuration for the bot.
type Config struct {
	// Slack settings
	SlackBotToken string
	SlackAppToken string
	Channels      []string // channel ID glob patterns; empty allows all
	ListenAll     bool
	KeyMode       KeyMode

	// Claude settings
	AnthropicAPIKey   string
	Model             string
	MaxTokens         int64
	SystemPromptFile  string
	CompletionTimeout time.Duration

	// Store settings
	StoreBackend  StoreBackend
	StoreBaseURL  string
	StoreTimeout  time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Conversation settings
	WindowSize int

	// Optional settings
	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set prefix for environment variables
	v.SetEnvPrefix("STORMSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// An empty STORMSTACK_HTTP_ADDR disables the ops server.
	v.AllowEmptyEnv(true)

	// Set defaults
	v.SetDefault("MODEL", "claude-sonnet-4-20250514")
	v.SetDefault("MAX_TOKENS", 1024)
	v.SetDefault("COMPLETION_TIMEOUT", "30s")
	v.SetDefault("STORE_BACKEND", "rest")
	v.SetDefault("STORE_BASE_URL", "http://api-application:5000")
	v.SetDefault("STORE_TIMEOUT", "10s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("WINDOW_SIZE", 5)
	v.SetDefault("CONVERSATION_KEY", "channel")
	v.SetDefault("LISTEN_ALL", false)
	v.SetDefault("HTTP_ADDR", "127.0.0.1:8080") // ops server is unauthenticated
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	cfg := &Config{
		SlackBotToken:     v.GetString("SLACK_BOT_TOKEN"),
		SlackAppToken:     v.GetString("SLACK_APP_TOKEN"),
		Channels:          splitList(v.GetString("CHANNELS")),
		ListenAll:         v.GetBool("LISTEN_ALL"),
		KeyMode:           KeyMode(v.GetString("CONVERSATION_KEY")),
		AnthropicAPIKey:   v.GetString("ANTHROPIC_API_KEY"),
		Model:             v.GetString("MODEL"),
		MaxTokens:         v.GetInt64("MAX_TOKENS"),
		SystemPromptFile:  v.GetString("SYSTEM_PROMPT_FILE"),
		CompletionTimeout: v.GetDuration("COMPLETION_TIMEOUT"),
		StoreBackend:      StoreBackend(v.GetString("STORE_BACKEND")),
		StoreBaseURL:      v.GetString("STORE_BASE_URL"),
		StoreTimeout:      v.GetDuration("STORE_TIMEOUT"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		WindowSize:        v.GetInt("WINDOW_SIZE"),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	// Required for all modes
	if c.SlackBotToken == "" {
		errs = append(errs, "STORMSTACK_SLACK_BOT_TOKEN is required")
	}
	if c.SlackAppToken == "" {
		errs = append(errs, "STORMSTACK_SLACK_APP_TOKEN is required")
	}
	if c.AnthropicAPIKey == "" {
		errs = append(errs, "STORMSTACK_ANTHROPIC_API_KEY is required")
	}

	// Store backend
	switch c.StoreBackend {
	case StoreREST:
		if c.StoreBaseURL == "" {
			errs = append(errs, "STORMSTACK_STORE_BASE_URL is required for the rest store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, "STORMSTACK_REDIS_ADDR is required for the redis store")
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Sprintf("invalid store backend %q, must be 'rest', 'redis' or 'memory'", c.StoreBackend))
	}

	switch c.KeyMode {
	case KeyChannel, KeyUserChannel, KeyThread:
	default:
		errs = append(errs, fmt.Sprintf("invalid conversation key %q, must be 'channel', 'user_channel' or 'thread'", c.KeyMode))
	}

	for _, pattern := range c.Channels {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Sprintf("STORMSTACK_CHANNELS pattern %q is invalid", pattern))
		}
	}

	if c.WindowSize < 0 {
		errs = append(errs, "STORMSTACK_WINDOW_SIZE must be >= 0")
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, "STORMSTACK_MAX_TOKENS must be > 0")
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, "STORMSTACK_STORE_TIMEOUT must be a positive duration")
	}
	if c.CompletionTimeout <= 0 {
		errs = append(errs, "STORMSTACK_COMPLETION_TIMEOUT must be a positive duration")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// WarmupChannels returns the configured channel IDs that are literal rather than globs.
func (c *Config) WarmupChannels() []string {
	var ids []string
	for _, pattern := range c.Channels {
		if !strings.ContainsAny(pattern, `*?[{\`) {
			ids = append(ids, pattern)
		}
	}
	return ids
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
