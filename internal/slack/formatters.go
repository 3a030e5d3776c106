// Package slack provides Slack message formatting utilities.
package slack

import "fmt"

// MaxMessageLength is Slack's limit for the text field of a message.
const MaxMessageLength = 40000

// FormatUserMention creates a user mention.
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// TruncateText truncates text to at most maxLen runes, ending with an ellipsis when cut.
func TruncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
