// Package claude provides Anthropic Claude API integration.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxTokens is the maximum number of tokens for responses.
	DefaultMaxTokens = 1024
	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 30 * time.Second
)

// Settings configures a Client.
type Settings struct {
	Model        string
	MaxTokens    int64
	SystemPrompt string
	Timeout      time.Duration
}

// Client wraps the Anthropic SDK client.
type Client struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	systemPrompt string
	timeout      time.Duration
	logger       *slog.Logger
}

// NewClient creates a new Claude API client. Extra request options are passed
// to the SDK, e.g. to point it at a different base URL.
func NewClient(apiKey string, settings Settings, logger *slog.Logger, opts ...option.RequestOption) *Client {
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Client{
		client:       client,
		model:        settings.Model,
		maxTokens:    settings.MaxTokens,
		systemPrompt: settings.SystemPrompt,
		timeout:      settings.Timeout,
		logger:       logger,
	}
}

// Complete sends prompt as a single user turn and returns the text of the reply.
// Failures are returned as *CompletionError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{BuildUserMessage(prompt)},
	}
	if c.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: c.systemPrompt},
		}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	text := ExtractTextContent(msg)
	c.logger.Debug("completion finished",
		"model", c.model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	if text == "" {
		return "", &CompletionError{Kind: KindOther, Err: fmt.Errorf("empty response (stop_reason=%s)", msg.StopReason)}
	}
	return text, nil
}

// classify maps SDK and transport failures onto CompletionError kinds.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &CompletionError{Kind: KindRateLimited, StatusCode: apiErr.StatusCode, Err: err}
		case apiErr.StatusCode >= 500:
			return &CompletionError{Kind: KindUnavailable, StatusCode: apiErr.StatusCode, Err: err}
		default:
			return &CompletionError{Kind: KindOther, StatusCode: apiErr.StatusCode, Err: err}
		}
	}
	return &CompletionError{Kind: KindUnavailable, Err: err}
}

// BuildUserMessage creates a user message param.
func BuildUserMessage(content string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.MessageParamRoleUser,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(content),
		},
	}
}

// ExtractTextContent extracts text content from a message.
func ExtractTextContent(msg *anthropic.Message) string {
	var text string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}
	return text
}
