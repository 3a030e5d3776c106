// Package main is the entry point for the StormStack Relay Bot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/claude"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/config"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/conversation"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/server"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/slack"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting StormStack Relay Bot...")
	logger.Info("Configuration loaded",
		"store_backend", cfg.StoreBackend,
		"conversation_key", cfg.KeyMode,
		"window_size", cfg.WindowSize,
		"model", cfg.Model,
		"log_level", cfg.LogLevel,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create conversation store
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create conversation store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Create Claude client
	systemPrompt, err := claude.LoadSystemPrompt(cfg.SystemPromptFile)
	if err != nil {
		logger.Error("Failed to load system prompt", "error", err)
		os.Exit(1)
	}
	completer := claude.NewClient(cfg.AnthropicAPIKey, claude.Settings{
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: systemPrompt,
		Timeout:      cfg.CompletionTimeout,
	}, logger)

	// Create exchange orchestrator (owns the conversation cache)
	exchange := conversation.NewExchange(store, completer, conversation.Options{
		WindowSize:   cfg.WindowSize,
		FetchTimeout: cfg.StoreTimeout,
		SaveTimeout:  cfg.StoreTimeout,
	}, logger)

	// Preload history for listed channels
	if cfg.KeyMode == config.KeyChannel {
		if ids := cfg.WarmupChannels(); len(ids) > 0 {
			loaded := exchange.Cache().Warm(ctx, ids)
			logger.Info("Preloaded conversations", "requested", len(ids), "loaded", loaded)
		}
	}

	// Start ops server
	if cfg.HTTPAddr != "" {
		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.New(cfg.HTTPAddr, exchange.Cache(), logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Ops server error", "error", err)
			}
		}()
	}

	// Create message handler
	handler := slack.NewHandler(exchange, cfg.KeyMode, slack.NewChannelFilter(cfg.Channels), logger)

	// Create Slack bot
	bot, err := slack.NewBot(cfg, handler.HandleMessage, logger)
	if err != nil {
		logger.Error("Failed to create Slack bot", "error", err)
		os.Exit(1)
	}

	// Run the bot
	logger.Info("StormStack Relay Bot is running. Press Ctrl+C to stop.")
	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Bot error", "error", err)
		exchange.Wait()
		os.Exit(1)
	}

	logger.Info("Waiting for pending saves...")
	exchange.Wait()
	logger.Info("StormStack Relay Bot stopped.")
}

// newLogger builds the process logger from the configured level and format.
func newLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newStore creates the configured durable store and a func releasing its resources.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreREST:
		return storage.NewRemoteStore(cfg.StoreBaseURL, cfg.StoreTimeout, logger), func() {}, nil
	case config.StoreRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := storage.DialRedis(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client, logger), func() { _ = client.Close() }, nil
	case config.StoreMemory:
		logger.Warn("Using in-memory store; history is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}
