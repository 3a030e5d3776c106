// Package slack provides Slack bot integration using Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/config"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlashCommand is the slash command the bot answers.
const SlashCommand = "/stormstack"

// MessageHandler is called when the bot receives a message to process.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error)

// IncomingMessage represents a message received by the bot.
type IncomingMessage struct {
	// Text is the message content (with bot mention stripped)
	Text string
	// UserID is the Slack user ID of the sender
	UserID string
	// ChannelID is the channel where the message was sent
	ChannelID string
	// ThreadTS is the thread timestamp (for threading replies)
	ThreadTS string
	// CreatedAt is when Slack received the message
	CreatedAt time.Time
	// IsDM indicates if this is a direct message
	IsDM bool
}

// OutgoingMessage represents a message to send.
type OutgoingMessage struct {
	// Text is the message content
	Text string
	// ThreadTS is the thread timestamp to reply in
	ThreadTS string
}

// Bot manages the Slack connection and event handling.
type Bot struct {
	client       *slack.Client
	socketClient *socketmode.Client
	handler      MessageHandler
	listenAll    bool
	botUserID    string
	logger       *slog.Logger
}

// NewBot creates a new Slack bot instance.
func NewBot(cfg *config.Config, handler MessageHandler, logger *slog.Logger) (*Bot, error) {
	client := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.LogLevel == "debug"),
	)

	// Get bot user ID for mention detection
	authTest, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	return &Bot{
		client:       client,
		socketClient: socketClient,
		handler:      handler,
		listenAll:    cfg.ListenAll,
		botUserID:    authTest.UserID,
		logger:       logger,
	}, nil
}

// Run starts the bot and blocks until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	go b.handleEvents(ctx)

	b.logger.Info("starting Slack bot", "bot_user_id", b.botUserID, "listen_all", b.listenAll)
	return b.socketClient.RunContext(ctx)
}

// handleEvents processes incoming Socket Mode events.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.socketClient.Events:
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent routes a single event to the appropriate handler.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		b.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeSlashCommand:
		b.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Slack...")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Error("connection error", "error", evt.Data)
	}
}

// handleEventsAPI processes Events API events (mentions, messages).
func (b *Bot) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	switch eventsAPIEvent.Type {
	case slackevents.CallbackEvent:
		b.handleCallbackEvent(ctx, eventsAPIEvent)
	}
}

// handleCallbackEvent processes callback events.
func (b *Bot) handleCallbackEvent(ctx context.Context, evt slackevents.EventsAPIEvent) {
	switch innerEvent := evt.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleAppMention(ctx, innerEvent)
	case *slackevents.MessageEvent:
		b.handleMessageEvent(ctx, innerEvent)
	}
}

// handleAppMention processes @bot mentions.
func (b *Bot) handleAppMention(ctx context.Context, evt *slackevents.AppMentionEvent) {
	msg := &IncomingMessage{
		Text:      stripMention(evt.Text, b.botUserID),
		UserID:    evt.User,
		ChannelID: evt.Channel,
		ThreadTS:  evt.ThreadTimeStamp,
		CreatedAt: parseTimestamp(evt.TimeStamp),
	}

	// Use the event timestamp for threading if no thread exists
	if msg.ThreadTS == "" {
		msg.ThreadTS = evt.TimeStamp
	}

	b.processMessage(ctx, msg)
}

// handleMessageEvent processes direct messages and, with listen-all, channel messages.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *slackevents.MessageEvent) {
	if !b.acceptMessage(evt) {
		return
	}

	msg := &IncomingMessage{
		Text:      strings.TrimSpace(evt.Text),
		UserID:    evt.User,
		ChannelID: evt.Channel,
		ThreadTS:  evt.ThreadTimeStamp,
		CreatedAt: parseTimestamp(evt.TimeStamp),
		IsDM:      evt.ChannelType == "im",
	}

	// Use the event timestamp for threading if no thread exists
	if msg.ThreadTS == "" {
		msg.ThreadTS = evt.TimeStamp
	}

	b.processMessage(ctx, msg)
}

// acceptMessage decides whether a message event should be answered.
func (b *Bot) acceptMessage(evt *slackevents.MessageEvent) bool {
	// Ignore bot messages and message changes
	if evt.BotID != "" || evt.SubType != "" || evt.User == b.botUserID {
		return false
	}
	if evt.ChannelType == "im" {
		return true
	}
	if !b.listenAll {
		return false
	}
	// Mentions also arrive as app_mention events; answer those once.
	return !strings.Contains(evt.Text, FormatUserMention(b.botUserID))
}

// handleSlashCommand processes /stormstack commands.
func (b *Bot) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	// Only handle our command
	if cmd.Command != SlashCommand {
		return
	}

	msg := &IncomingMessage{
		Text:      cmd.Text,
		UserID:    cmd.UserID,
		ChannelID: cmd.ChannelID,
		ThreadTS:  "", // Slash commands don't have threads
		CreatedAt: time.Now().UTC(),
	}

	b.processMessage(ctx, msg)
}

// processMessage sends a message to the handler and posts the response.
func (b *Bot) processMessage(ctx context.Context, msg *IncomingMessage) {
	b.logger.Debug("processing message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"created_at", msg.CreatedAt,
	)

	response, err := b.handler(ctx, msg)
	if err != nil {
		b.logger.Error("handler error", "error", err)
		return
	}
	if response == nil {
		return
	}

	if err := b.sendMessage(msg.ChannelID, response); err != nil {
		b.logger.Error("failed to send message", "channel", msg.ChannelID, "error", err)
	}
}

// sendMessage posts a message to a channel.
func (b *Bot) sendMessage(channelID string, msg *OutgoingMessage) error {
	options := []slack.MsgOption{
		slack.MsgOptionText(TruncateText(msg.Text, MaxMessageLength), false),
	}

	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}

	_, _, err := b.client.PostMessage(channelID, options...)
	return err
}

// stripMention removes the bot mention from message text.
func stripMention(text, botUserID string) string {
	text = strings.Replace(text, FormatUserMention(botUserID), "", 1)
	return strings.TrimSpace(text)
}

// parseTimestamp converts a Slack "seconds.micros" timestamp to UTC.
func parseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond)).UTC()
}
