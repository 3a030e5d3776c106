package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces conversation lists in a shared Redis.
const redisKeyPrefix = "stormstack:conversation:"

// RedisStore keeps each conversation as a Redis list of JSON documents.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// redisRecord is the JSON document stored per list item.
type redisRecord struct {
	UserID      string `json:"userId"`
	UserMessage string `json:"userMessage"`
	BotResponse string `json:"botResponse"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// NewRedisStore creates a Redis store on an existing client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Fetch reads the full list for a conversation. Undecodable items are dropped.
func (s *RedisStore) Fetch(ctx context.Context, conversationID string) ([]Entry, error) {
	items, err := s.client.LRange(ctx, redisKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("fetch", conversationID, err)
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		entry, err := decodeRedisRecord(item)
		if err != nil {
			s.logger.Warn("dropping undecodable entry",
				"conversation_id", conversationID,
				"index", i,
				"error", err,
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Save appends one entry to the conversation's list.
func (s *RedisStore) Save(ctx context.Context, conversationID, userID string, entry Entry) error {
	data, err := encodeRedisRecord(userID, entry)
	if err != nil {
		return unavailable("save", conversationID, err)
	}
	if err := s.client.RPush(ctx, redisKey(conversationID), data).Err(); err != nil {
		return unavailable("save", conversationID, err)
	}
	return nil
}

func redisKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

func encodeRedisRecord(userID string, entry Entry) (string, error) {
	rec := redisRecord{
		UserID:      userID,
		UserMessage: entry.UserMessage,
		BotResponse: entry.BotResponse,
	}
	if !entry.Timestamp.IsZero() {
		rec.Timestamp = entry.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	return string(data), nil
}

func decodeRedisRecord(item string) (Entry, error) {
	var rec redisRecord
	if err := json.Unmarshal([]byte(item), &rec); err != nil {
		return Entry{}, err
	}
	return Entry{
		UserMessage: rec.UserMessage,
		BotResponse: rec.BotResponse,
		Timestamp:   parseTimestamp(rec.Timestamp),
	}, nil
}
