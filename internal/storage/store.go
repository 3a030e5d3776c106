// Package storage provides conversation entry types and durable store implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry is a single completed exchange: what the user said and what the bot answered.
type Entry struct {
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEntry creates a validated entry stamped with the given time in UTC.
func NewEntry(userMessage, botResponse string, at time.Time) (Entry, error) {
	e := Entry{
		UserMessage: userMessage,
		BotResponse: botResponse,
		Timestamp:   at.UTC(),
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Validate reports whether both message fields are present.
func (e Entry) Validate() error {
	var missing []string
	if strings.TrimSpace(e.UserMessage) == "" {
		missing = append(missing, "userMessage")
	}
	if strings.TrimSpace(e.BotResponse) == "" {
		missing = append(missing, "botResponse")
	}
	if len(missing) > 0 {
		return fmt.Errorf("entry missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Store is the durable copy of conversation history.
type Store interface {
	// Fetch returns the stored history for a conversation, oldest first.
	// A conversation with no history yields an empty slice and no error.
	Fetch(ctx context.Context, conversationID string) ([]Entry, error)

	// Save persists one entry owned by userID under the conversation.
	Save(ctx context.Context, conversationID, userID string, entry Entry) error
}

// Kind classifies store failures.
type Kind int

const (
	// KindUnavailable covers transport failures and unexpected statuses.
	KindUnavailable Kind = iota + 1
	// KindMalformed covers responses that could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var (
	// ErrUnavailable matches any StoreError of KindUnavailable.
	ErrUnavailable = &StoreError{Kind: KindUnavailable}
	// ErrMalformed matches any StoreError of KindMalformed.
	ErrMalformed = &StoreError{Kind: KindMalformed}
)

// StoreError is returned by every Store operation that fails.
type StoreError struct {
	Kind           Kind
	Op             string
	ConversationID string
	Err            error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store")
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.ConversationID != "" {
		b.WriteString(" " + e.ConversationID)
	}
	b.WriteString(": " + e.Kind.String())
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// KindName returns the failure kind as a log label.
func (e *StoreError) KindName() string {
	return e.Kind.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches store errors by kind so callers can use errors.Is(err, ErrUnavailable).
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func unavailable(op, conversationID string, err error) error {
	return &StoreError{Kind: KindUnavailable, Op: op, ConversationID: conversationID, Err: err}
}

func malformed(op, conversationID string, err error) error {
	return &StoreError{Kind: KindMalformed, Op: op, ConversationID: conversationID, Err: err}
}

// ErrorKind returns a short label for logging. Errors carrying a kind, such as
// StoreError, report it; context errors map to "timeout" and "canceled".
func ErrorKind(err error) string {
	var k interface{ KindName() string }
	if errors.As(err, &k) {
		return k.KindName()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
