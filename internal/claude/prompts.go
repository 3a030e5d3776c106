// Package claude provides system prompt management.
package claude

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemPrompt is the base system prompt for the bot.
const DefaultSystemPrompt = `You are StormStack Relay Bot, a friendly assistant chatting with a team in Slack.

The user's message arrives after a short transcript of the recent conversation,
written as alternating "User:" and "Bot:" lines. Use the transcript for context
and answer only the final "User:" line.

- Be concise and direct; this is a chat, not a document
- Use code blocks with language hints for code snippets
- Ask a clarifying question when the request is ambiguous
- Never reveal secrets, tokens, or credentials
`

// MaxSystemPromptChars caps a prompt loaded from disk.
const MaxSystemPromptChars = 16000

// LoadSystemPrompt returns the contents of path, or DefaultSystemPrompt when
// path is empty or the file is blank.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %s: %w", path, err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return DefaultSystemPrompt, nil
	}
	return TruncateSystemPrompt(content, MaxSystemPromptChars), nil
}

// TruncateSystemPrompt truncates content to fit within maxChars.
func TruncateSystemPrompt(content string, maxChars int) string {
	if len(content) <= maxChars {
		return content
	}

	// Find a good break point (end of a section)
	truncated := content[:maxChars]
	lastNewline := strings.LastIndex(truncated, "\n\n")
	if lastNewline > maxChars/2 {
		truncated = truncated[:lastNewline]
	}

	return truncated + "\n\n[System prompt truncated due to length...]"
}
