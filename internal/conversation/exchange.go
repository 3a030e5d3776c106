package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/storage"
)

// Apology replaces the bot response whenever a completion fails.
const Apology = "I'm sorry, I couldn't process your request."

// ErrEmptyInput is returned by Handle for empty or whitespace-only messages.
var ErrEmptyInput = errors.New("empty input")

// Completer turns a prompt into a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Message is one user message addressed to a conversation.
type Message struct {
	ConversationID string
	UserID         string
	Text           string
	// SentAt stamps the stored entry; zero means the time Handle runs.
	SentAt time.Time
}

// Options tunes an Exchange.
type Options struct {
	// WindowSize is how many prior entries go into each prompt.
	// Negative selects DefaultWindowSize.
	WindowSize int
	// FetchTimeout bounds hydration fetches.
	FetchTimeout time.Duration
	// SaveTimeout bounds each background save.
	SaveTimeout time.Duration
}

// Exchange runs one message through history lookup, completion and persistence.
// It owns the conversation cache for its lifetime.
type Exchange struct {
	cache       *Cache
	store       storage.Store
	completer   Completer
	windowSize  int
	saveTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	saves sync.WaitGroup
}

// NewExchange creates an exchange with a fresh cache over store.
func NewExchange(store storage.Store, completer Completer, opts Options, logger *slog.Logger) *Exchange {
	if opts.WindowSize < 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = storage.DefaultTimeout
	}
	return &Exchange{
		cache:       NewCache(store, opts.FetchTimeout, logger),
		store:       store,
		completer:   completer,
		windowSize:  opts.WindowSize,
		saveTimeout: opts.SaveTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Cache exposes the exchange's conversation cache for read-only inspection and warm-up.
func (x *Exchange) Cache() *Cache {
	return x.cache
}

// Handle produces a reply for msg. Store and completion failures degrade the
// reply rather than fail it; the only error returned is ErrEmptyInput.
func (x *Exchange) Handle(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return "", ErrEmptyInput
	}

	logger := x.logger.With(
		"exchange_id", uuid.NewString(),
		"conversation_id", msg.ConversationID,
	)

	if err := x.cache.EnsureLoaded(ctx, msg.ConversationID); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, storage.ErrMalformed) {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "conversation history unavailable, continuing without it",
			"kind", storage.ErrorKind(err),
			"error", err,
		)
	}

	prompt := BuildContext(x.cache.Snapshot(msg.ConversationID), msg.Text, x.windowSize)
	logger.Debug("built prompt", "length", len(prompt))

	reply, err := x.completer.Complete(ctx, prompt)
	switch {
	case err != nil:
		logger.Error("completion failed",
			"kind", storage.ErrorKind(err),
			"error", err,
		)
		reply = Apology
	case strings.TrimSpace(reply) == "":
		logger.Warn("completion returned no text")
		reply = Apology
	}

	at := msg.SentAt
	if at.IsZero() {
		at = x.now()
	}
	entry, err := storage.NewEntry(msg.Text, reply, at)
	if err != nil {
		logger.Error("refusing to record invalid entry", "error", err)
		return reply, nil
	}
	x.cache.Append(msg.ConversationID, entry)
	x.saveAsync(ctx, logger, msg.ConversationID, msg.UserID, entry)

	return reply, nil
}

// saveAsync persists entry in the background. Failures are logged only.
func (x *Exchange) saveAsync(ctx context.Context, logger *slog.Logger, conversationID, userID string, entry storage.Entry) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.saveTimeout)

	x.saves.Add(1)
	go func() {
		defer x.saves.Done()
		defer cancel()

		if err := x.store.Save(saveCtx, conversationID, userID, entry); err != nil {
			level := slog.LevelError
			if errors.Is(err, storage.ErrUnavailable) {
				level = slog.LevelWarn
			}
			logger.Log(saveCtx, level, "failed to save conversation entry",
				"user_id", userID,
				"kind", storage.ErrorKind(err),
				"error", err,
			)
			return
		}
		logger.Debug("conversation entry saved", "user_id", userID)
	}()
}

// Wait blocks until all background saves have finished.
func (x *Exchange) Wait() {
	x.saves.Wait()
}
