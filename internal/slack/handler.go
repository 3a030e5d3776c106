// Package slack provides message handlers for the bot.
package slack

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/config"
	"github.com/ireland-samantha/stormstack-relay-bot/internal/conversation"
)

// Responder produces a reply for a message in a conversation.
type Responder interface {
	Handle(ctx context.Context, msg conversation.Message) (string, error)
}

// Handler maps Slack messages onto conversations and relays them.
type Handler struct {
	responder Responder
	keyMode   config.KeyMode
	channels  *ChannelFilter
	logger    *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(responder Responder, keyMode config.KeyMode, channels *ChannelFilter, logger *slog.Logger) *Handler {
	return &Handler{
		responder: responder,
		keyMode:   keyMode,
		channels:  channels,
		logger:    logger,
	}
}

// HandleMessage processes an incoming message. A nil response means nothing
// should be sent back.
func (h *Handler) HandleMessage(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error) {
	if !msg.IsDM && !h.channels.Allows(msg.ChannelID) {
		h.logger.Debug("ignoring message from unlisted channel", "channel", msg.ChannelID)
		return nil, nil
	}

	conversationID := ConversationKey(h.keyMode, msg)
	h.logger.Info("handling message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"thread", msg.ThreadTS,
		"conversation_id", conversationID,
	)

	reply, err := h.responder.Handle(ctx, conversation.Message{
		ConversationID: conversationID,
		UserID:         msg.UserID,
		Text:           msg.Text,
		SentAt:         msg.CreatedAt,
	})
	if errors.Is(err, conversation.ErrEmptyInput) {
		h.logger.Debug("ignoring empty message", "conversation_id", conversationID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &OutgoingMessage{
		Text:     reply,
		ThreadTS: msg.ThreadTS,
	}, nil
}
