package storage

import (
	"context"
	"sync"
)

// record is an entry together with the user who produced it.
type record struct {
	UserID string
	Entry  Entry
}

// MemoryStore is an in-memory implementation of Store.
// History lives only as long as the process, which suits local development.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]record),
	}
}

// Fetch returns a copy of the entries saved for a conversation.
func (s *MemoryStore) Fetch(ctx context.Context, conversationID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("fetch", conversationID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.conversations[conversationID]
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = r.Entry
	}
	return entries, nil
}

// Save appends an entry to a conversation, creating it if needed.
func (s *MemoryStore) Save(ctx context.Context, conversationID, userID string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return unavailable("save", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conversationID] = append(s.conversations[conversationID], record{
		UserID: userID,
		Entry:  entry,
	})
	return nil
}

// Len returns the number of conversations in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
