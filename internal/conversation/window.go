// Package conversation holds per-conversation history, prompt assembly and the
// exchange flow that ties a chat message to a completion.
package conversation

import (
	"strings"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/storage"
)

// DefaultWindowSize is the number of prior exchanges included in a prompt.
const DefaultWindowSize = 5

// BuildContext renders the last windowSize entries of history followed by the
// cue for the new message. A negative windowSize is treated as zero.
func BuildContext(history []storage.Entry, newMessage string, windowSize int) string {
	if windowSize < 0 {
		windowSize = 0
	}
	start := len(history) - windowSize
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, e := range history[start:] {
		b.WriteString("User: ")
		b.WriteString(e.UserMessage)
		b.WriteString("\nBot: ")
		b.WriteString(e.BotResponse)
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(newMessage)
	b.WriteString("\nBot:")
	return b.String()
}
