package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made by RemoteStore.
const DefaultTimeout = 10 * time.Second

// maxErrorBody limits how much of an error response is kept for logs.
const maxErrorBody = 400

// RemoteStore talks to the conversation persistence REST API.
type RemoteStore struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteStore creates a client for the API rooted at baseURL.
func NewRemoteStore(baseURL string, timeout time.Duration, logger *slog.Logger) *RemoteStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// conversationDocument is the GET /conversation/{id} response body.
type conversationDocument struct {
	Conversations []dailyConversation `json:"conversations"`
}

type dailyConversation struct {
	Date    string            `json:"date"`
	Entries []json.RawMessage `json:"entries"`
}

type wireEntry struct {
	UserMessage string `json:"userMessage"`
	BotResponse string `json:"botResponse"`
	Timestamp   string `json:"timestamp"`
}

type saveRequest struct {
	DiscordID   string `json:"discordId"`
	ChannelID   string `json:"channelId"`
	UserMessage string `json:"userMessage"`
	BotResponse string `json:"botResponse"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Fetch retrieves and flattens the day-grouped history for a conversation.
// Entries that cannot be decoded are dropped; semantic validation is left to the caller.
func (s *RemoteStore) Fetch(ctx context.Context, conversationID string) ([]Entry, error) {
	endpoint := s.baseURL + "/conversation/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, unavailable("fetch", conversationID, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("fetch", conversationID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("fetch", conversationID, fmt.Errorf("failed reading response: %w", err))
	}

	if resp.StatusCode == http.StatusNotFound {
		return []Entry{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unavailable("fetch", conversationID,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(body), maxErrorBody)))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []Entry{}, nil
	}

	var doc *conversationDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, malformed("fetch", conversationID, err)
	}
	if doc == nil {
		return []Entry{}, nil
	}

	entries := make([]Entry, 0)
	for _, day := range doc.Conversations {
		for i, raw := range day.Entries {
			var w wireEntry
			if err := json.Unmarshal(raw, &w); err != nil {
				s.logger.Warn("dropping undecodable entry",
					"conversation_id", conversationID,
					"date", day.Date,
					"index", i,
					"error", err,
				)
				continue
			}
			entries = append(entries, Entry{
				UserMessage: w.UserMessage,
				BotResponse: w.BotResponse,
				Timestamp:   parseTimestamp(w.Timestamp),
			})
		}
	}
	return entries, nil
}

// Save posts one exchange to the API. Only 200 and 201 count as success.
func (s *RemoteStore) Save(ctx context.Context, conversationID, userID string, entry Entry) error {
	payload := saveRequest{
		DiscordID:   userID,
		ChannelID:   conversationID,
		UserMessage: entry.UserMessage,
		BotResponse: entry.BotResponse,
	}
	if !entry.Timestamp.IsZero() {
		payload.Timestamp = entry.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return unavailable("save", conversationID, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/conversation", bytes.NewReader(data))
	if err != nil {
		return unavailable("save", conversationID, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return unavailable("save", conversationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return unavailable("save", conversationID,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	return nil
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
