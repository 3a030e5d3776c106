package slack

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/config"
)

// ChannelFilter limits which channels the bot answers in.
type ChannelFilter struct {
	patterns []string
}

// NewChannelFilter creates a filter from channel ID glob patterns.
// No patterns means every channel is allowed.
func NewChannelFilter(patterns []string) *ChannelFilter {
	return &ChannelFilter{patterns: patterns}
}

// Allows reports whether channelID matches any configured pattern.
func (f *ChannelFilter) Allows(channelID string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	for _, pattern := range f.patterns {
		if ok, err := doublestar.Match(pattern, channelID); err == nil && ok {
			return true
		}
	}
	return false
}

// ConversationKey derives the conversation identity for a message.
func ConversationKey(mode config.KeyMode, msg *IncomingMessage) string {
	switch mode {
	case config.KeyUserChannel:
		return msg.ChannelID + ":" + msg.UserID
	case config.KeyThread:
		if msg.ThreadTS != "" {
			return msg.ChannelID + ":" + msg.ThreadTS
		}
		return msg.ChannelID + ":" + msg.UserID
	default:
		return msg.ChannelID
	}
}
